package provider

import (
	"context"
	"sync"
	"time"

	"mediinterpret/internal/domain"
)

// RateLimiter is a token bucket shared by every request to one provider.
type RateLimiter struct {
	mu     sync.Mutex
	burst  float64
	perSec float64
	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewRateLimiter allows burst requests at once, refilled at perMinute.
func NewRateLimiter(burst int, perMinute float64) *RateLimiter {
	if burst <= 0 {
		burst = 10
	}
	if perMinute <= 0 {
		perMinute = 30
	}
	return &RateLimiter{
		burst:  float64(burst),
		perSec: perMinute / 60,
		tokens: float64(burst),
		last:   time.Now(),
		now:    time.Now,
	}
}

// reserve takes a token when one is available and otherwise reports how
// long until the next one.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = min(rl.burst, rl.tokens+now.Sub(rl.last).Seconds()*rl.perSec)
	rl.last = now
	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	return time.Duration((1 - rl.tokens) / rl.perSec * float64(time.Second))
}

// Wait blocks until a token is taken or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		d := rl.reserve()
		if d == 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RateLimited wraps a provider so every request first takes a token from
// the limiter.
type RateLimited struct {
	domain.Provider
	limiter *RateLimiter
}

// NewRateLimited returns p throttled to perMinute requests with a burst of
// the same size, at most 10. It keeps streaming support when p has it.
func NewRateLimited(p domain.Provider, perMinute int) domain.Provider {
	rl := &RateLimited{Provider: p, limiter: NewRateLimiter(min(perMinute, 10), float64(perMinute))}
	if _, ok := p.(domain.StreamingProvider); ok {
		return &rateLimitedStream{rl}
	}
	return rl
}

func (r *RateLimited) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Provider.Chat(ctx, req)
}

type rateLimitedStream struct {
	*RateLimited
}

func (r *rateLimitedStream) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	if err := r.limiter.Wait(ctx); err != nil {
		close(out)
		return err
	}
	return r.Provider.(domain.StreamingProvider).ChatStream(ctx, req, out)
}
