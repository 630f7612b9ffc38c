package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mediinterpret/internal/domain"
)

// fakeClock drives a limiter without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func limiterAt(burst int, perMinute float64) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := NewRateLimiter(burst, perMinute)
	rl.now = clock.now
	rl.last = clock.t
	return rl, clock
}

func TestRateLimiter_Reserve(t *testing.T) {
	rl, clock := limiterAt(2, 60) // one token per second

	for i := 0; i < 2; i++ {
		if d := rl.reserve(); d != 0 {
			t.Fatalf("burst token %d should be immediate, got %v", i+1, d)
		}
	}
	if d := rl.reserve(); d != time.Second {
		t.Fatalf("empty bucket should wait 1s, got %v", d)
	}

	clock.advance(500 * time.Millisecond)
	if d := rl.reserve(); d != 500*time.Millisecond {
		t.Fatalf("half refilled bucket should wait 500ms, got %v", d)
	}

	clock.advance(time.Hour)
	for i := 0; i < 2; i++ {
		if d := rl.reserve(); d != 0 {
			t.Fatalf("refill should cap at burst, token %d waited %v", i+1, d)
		}
	}
	if d := rl.reserve(); d == 0 {
		t.Fatal("refill must not exceed burst")
	}
}

func TestRateLimiter_WaitsAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 600) // refills every 100ms

	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected to wait for a refill, got %v", elapsed)
	}
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// --- Retry ---

func TestBackoff(t *testing.T) {
	old := retryBaseDelay
	retryBaseDelay = 100 * time.Millisecond
	defer func() { retryBaseDelay = old }()

	for attempt := 1; attempt <= 3; attempt++ {
		base := time.Duration(attempt*attempt) * retryBaseDelay
		d := backoff(attempt, 0)
		if d < base || d > base+base/2 {
			t.Errorf("attempt %d: backoff %v outside [%v, %v]", attempt, d, base, base+base/2)
		}
	}
	if d := backoff(1, 5*time.Second); d != 5*time.Second {
		t.Errorf("longer Retry-After should win, got %v", d)
	}
	if d := backoff(1, time.Hour); d != maxRetryAfter {
		t.Errorf("Retry-After should be capped at %v, got %v", maxRetryAfter, d)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"7", 7 * time.Second},
		{"-1", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		h := http.Header{}
		if tt.header != "" {
			h.Set("Retry-After", tt.header)
		}
		if got := parseRetryAfter(h); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestDoWithRetry_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad image", http.StatusBadRequest)
	}))
	defer srv.Close()

	resp, err := doWithRetry(context.Background(), srv.Client(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || calls.Load() != 1 {
		t.Fatalf("expected one 400 response, got %d after %d calls", resp.StatusCode, calls.Load())
	}
}

func TestDoWithRetry_GivesUp(t *testing.T) {
	old := retryBaseDelay
	retryBaseDelay = time.Millisecond
	defer func() { retryBaseDelay = old }()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := doWithRetry(context.Background(), srv.Client(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}, testLogger())
	if !IsStatus(err, http.StatusTooManyRequests) {
		t.Fatalf("expected the last 429 status, got %v", err)
	}
	if calls.Load() != maxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", maxRetries+1, calls.Load())
	}
}

// --- RateLimited wrapper ---

func TestNewRateLimited_KeepsStreaming(t *testing.T) {
	streaming := &mockStreamProvider{mockProvider: mockProvider{name: "s"}, streamResp: "ok"}
	if _, ok := NewRateLimited(streaming, 60).(domain.StreamingProvider); !ok {
		t.Fatal("wrapper should stay a StreamingProvider")
	}

	plain := &mockProvider{name: "p", chatResp: &domain.ChatResponse{Content: "ok"}}
	if _, ok := NewRateLimited(plain, 60).(domain.StreamingProvider); ok {
		t.Fatal("wrapper must not add streaming to a plain provider")
	}
}

func TestRateLimited_CancelledStreamClosesChannel(t *testing.T) {
	streaming := &mockStreamProvider{mockProvider: mockProvider{name: "s"}, streamResp: "ok"}
	p := NewRateLimited(streaming, 1).(domain.StreamingProvider)

	// Use up the single token.
	out := make(chan domain.StreamEvent, 8)
	if err := p.ChatStream(context.Background(), domain.ChatRequest{}, out); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out = make(chan domain.StreamEvent, 8)
	if err := p.ChatStream(ctx, domain.ChatRequest{}, out); err == nil {
		t.Fatal("expected context error")
	}
	if _, open := <-out; open {
		t.Fatal("channel should be closed")
	}
	if p.Name() != "s" {
		t.Fatalf("wrapper should keep the provider name, got %q", p.Name())
	}
}
