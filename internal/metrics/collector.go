// Package metrics keeps in-process counters, gauges and histograms and
// serves them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry holds metric families keyed by name. Each family holds one
// series per label set.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	start    time.Time
}

type family struct {
	name   string
	help   string
	kind   string // counter, gauge or histogram
	series map[string]series
}

type series interface {
	write(w io.Writer, name, labels string)
}

// NewRegistry creates an empty registry; uptime counts from now.
func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family), start: time.Now()}
}

// Default is the process-wide registry.
var Default = NewRegistry()

// Uptime returns the time since the registry was created.
func (r *Registry) Uptime() time.Duration { return time.Since(r.start) }

// lookup returns the series for name and labels, creating it with create on
// first use. A name is bound to the kind it was first registered with.
func (r *Registry) lookup(name, help, kind, labels string, create func() series) series {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: kind, series: make(map[string]series)}
		r.families[name] = f
	}
	if f.kind != kind {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, kind))
	}
	s, ok := f.series[labels]
	if !ok {
		s = create()
		f.series[labels] = s
	}
	return s
}

// Label formats one label pair with its value quoted.
func Label(key, value string) string {
	return key + "=" + strconv.Quote(value)
}

// Counter only goes up.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

func (c *Counter) write(w io.Writer, name, labels string) {
	fmt.Fprintf(w, "%s %d\n", withLabels(name, labels), c.Value())
}

// Gauge goes up and down.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.v.Store(n) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

func (g *Gauge) write(w io.Writer, name, labels string) {
	fmt.Fprintf(w, "%s %d\n", withLabels(name, labels), g.Value())
}

// Histogram counts observations into cumulative buckets. The last bound
// is always +Inf.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func newHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	b = slices.DeleteFunc(b, func(v float64) bool { return math.IsInf(v, 1) })
	b = append(slices.Compact(b), math.Inf(1))
	return &Histogram{bounds: b, counts: make([]int64, len(b))}
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) write(w io.Writer, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sep := ""
	if labels != "" {
		sep = ","
	}
	for i, le := range h.bounds {
		bound := strconv.FormatFloat(le, 'g', -1, 64)
		if math.IsInf(le, 1) {
			bound = "+Inf"
		}
		fmt.Fprintf(w, "%s_bucket{%s%sle=%q} %d\n", name, labels, sep, bound, h.counts[i])
	}
	fmt.Fprintf(w, "%s %d\n", withLabels(name+"_count", labels), h.count)
	fmt.Fprintf(w, "%s %g\n", withLabels(name+"_sum", labels), h.sum)
}

func withLabels(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// Counter returns the counter for name and labels, e.g. `channel="web"`.
func (r *Registry) Counter(name, help, labels string) *Counter {
	return r.lookup(name, help, "counter", labels, func() series { return new(Counter) }).(*Counter)
}

// Gauge returns the gauge for name and labels.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	return r.lookup(name, help, "gauge", labels, func() series { return new(Gauge) }).(*Gauge)
}

// Histogram returns the histogram for name and labels. Buckets only apply
// when the series is created.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return r.lookup(name, help, "histogram", labels, func() series { return newHistogram(buckets) }).(*Histogram)
}

// WriteText renders every family, sorted by name then labels.
func (r *Registry) WriteText(w io.Writer) {
	fmt.Fprintf(w, "# HELP mediinterpret_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(w, "# TYPE mediinterpret_uptime_seconds gauge\n")
	fmt.Fprintf(w, "mediinterpret_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	r.mu.Lock()
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		f := r.families[name]
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
		labels := make([]string, 0, len(f.series))
		for l := range f.series {
			labels = append(labels, l)
		}
		slices.Sort(labels)
		for _, l := range labels {
			f.series[l].write(w, f.name, l)
		}
	}
	r.mu.Unlock()
}

// Handler serves the registry to Prometheus scrapers.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		var sb strings.Builder
		r.WriteText(&sb)
		io.WriteString(w, sb.String())
	}
}

var (
	ProviderRequests = Default.Counter("mediinterpret_provider_requests_total", "Answers requested from the provider", "")
	ActiveStreams    = Default.Gauge("mediinterpret_active_streams", "Answers currently streaming", "")
	ActiveSessions   = Default.Gauge("mediinterpret_active_sessions", "Consultation sessions held in memory", "")
	SSEConnections   = Default.Gauge("mediinterpret_sse_connections", "Open SSE and WebSocket streams", "")

	StreamLatency = Default.Histogram("mediinterpret_stream_latency_seconds", "Time to stream a full answer in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	FirstChunkLatency = Default.Histogram("mediinterpret_first_chunk_latency_seconds", "Time to the first streamed chunk in seconds", "",
		[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10})
)

// ConsultationStarted counts a new consultation by type and channel.
func ConsultationStarted(typ, channel string) {
	Default.Counter("mediinterpret_consultations_started_total", "Consultations started",
		Label("type", typ)+","+Label("channel", channel)).Inc()
}

// MessageSent counts a user message by channel, and its attachment if any.
func MessageSent(channel string, withAttachment bool) {
	Default.Counter("mediinterpret_messages_total", "User messages sent", Label("channel", channel)).Inc()
	if withAttachment {
		Default.Counter("mediinterpret_attachments_total", "Attachments sent with a message", Label("channel", channel)).Inc()
	}
}

// ProviderFailed counts a failed answer by provider.
func ProviderFailed(provider string) {
	Default.Counter("mediinterpret_provider_errors_total", "Answers that failed", Label("provider", provider)).Inc()
}
