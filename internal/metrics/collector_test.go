package metrics

import (
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// --- Series ---

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry()
	ctr := r.Counter("x_total", "x", "")
	ctr.Inc()
	ctr.Add(4)
	if ctr.Value() != 5 {
		t.Fatalf("expected 5, got %d", ctr.Value())
	}
	if r.Counter("x_total", "x", "") != ctr {
		t.Fatal("same name and labels should return the same counter")
	}
	if r.Counter("x_total", "x", Label("channel", "web")) == ctr {
		t.Fatal("different labels should return a different counter")
	}

	g := r.Gauge("streams", "s", "")
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 1 {
		t.Fatalf("expected 1, got %d", g.Value())
	}
	g.Set(7)
	if g.Value() != 7 {
		t.Fatalf("expected 7, got %d", g.Value())
	}
}

func TestHistogram_SortedWithInfBucket(t *testing.T) {
	r := NewRegistry()
	h := r.Histogram("lat", "latency", "", []float64{5, 1, 5, math.Inf(1)})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(100)

	if len(h.bounds) != 3 || h.bounds[0] != 1 || h.bounds[1] != 5 || !math.IsInf(h.bounds[2], 1) {
		t.Fatalf("expected bounds [1 5 +Inf], got %v", h.bounds)
	}
	want := []int64{1, 2, 3}
	for i, n := range h.counts {
		if n != want[i] {
			t.Errorf("bucket le=%g: expected %d, got %d", h.bounds[i], want[i], n)
		}
	}
	if h.Count() != 3 {
		t.Fatalf("expected 3 observations, got %d", h.Count())
	}
}

func TestRegistry_KindMismatchPanics(t *testing.T) {
	r := NewRegistry()
	r.Counter("dup", "d", "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic when a counter name is reused as a gauge")
		}
	}()
	r.Gauge("dup", "d", "")
}

func TestLabel(t *testing.T) {
	if got := Label("channel", `we"b`); got != `channel="we\"b"` {
		t.Fatalf("unexpected label %s", got)
	}
}

// --- Exposition ---

func TestHandler_PrometheusText(t *testing.T) {
	r := NewRegistry()
	r.Counter("req_total", "Requests", Label("provider", "openai")).Inc()
	r.Counter("req_total", "Requests", Label("provider", "gemini")).Add(2)
	r.Histogram("lat_seconds", "Latency", "", []float64{1}).Observe(0.2)
	r.Histogram("ch_seconds", "By channel", Label("channel", "web"), []float64{1}).Observe(2)

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"mediinterpret_uptime_seconds",
		`req_total{provider="gemini"} 2`,
		`req_total{provider="openai"} 1`,
		`lat_seconds_bucket{le="1"} 1`,
		`lat_seconds_bucket{le="+Inf"} 1`,
		"lat_seconds_count 1",
		`ch_seconds_bucket{channel="web",le="1"} 0`,
		`ch_seconds_count{channel="web"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in output:\n%s", want, body)
		}
	}
	if strings.Count(body, "# TYPE req_total counter") != 1 {
		t.Error("HELP/TYPE should be written once per metric name")
	}
	if strings.Index(body, `provider="gemini"`) > strings.Index(body, `provider="openai"`) {
		t.Error("series should be sorted by labels")
	}
	if strings.Index(body, "ch_seconds") > strings.Index(body, "lat_seconds") {
		t.Error("families should be sorted by name")
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
}

func TestLabeledHelpers(t *testing.T) {
	ConsultationStarted("imaging", "telegram")
	MessageSent("web", true)
	MessageSent("web", false)
	ProviderFailed("gemini")

	var sb strings.Builder
	Default.WriteText(&sb)
	out := sb.String()
	for _, want := range []string{
		`mediinterpret_consultations_started_total{type="imaging",channel="telegram"} 1`,
		`mediinterpret_messages_total{channel="web"} 2`,
		`mediinterpret_attachments_total{channel="web"} 1`,
		`mediinterpret_provider_errors_total{provider="gemini"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestCounter_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Counter("c_total", "c", "").Inc()
		}()
	}
	wg.Wait()
	if got := r.Counter("c_total", "c", "").Value(); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}
