package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"mediinterpret/internal/domain"
)

// FailoverProvider answers from the first provider in the chain that
// succeeds. It implements both Provider and StreamingProvider.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover chain from the given providers.
func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		providers: providers,
		logger:    logger,
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Models lists every model of the chain once, in chain order.
func (fp *FailoverProvider) Models() []string {
	var all []string
	for _, p := range fp.providers {
		for _, m := range p.Models() {
			if !slices.Contains(all, m) {
				all = append(all, m)
			}
		}
	}
	return all
}

// Healthy succeeds when any provider is healthy.
func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range fp.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("no healthy provider: %w", errors.Join(errs...))
}

func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var resp *domain.ChatResponse
	err := fp.each(ctx, "chat", func(p domain.Provider) (bool, error) {
		r, err := p.Chat(ctx, req)
		resp = r
		return false, err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ChatStream streams from each provider in turn. Every attempt gets its own
// channel so a provider closing it cannot affect the next one. Once a
// provider has emitted text the answer is committed to it: the reader
// already shows part of that answer, so a later failure is returned.
func (fp *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)
	return fp.each(ctx, "stream", func(p domain.Provider) (bool, error) {
		return fp.streamOne(ctx, p, req, out)
	})
}

// each runs try against the chain until one call succeeds. A failure that
// try marks final, or a finished ctx, stops the chain.
func (fp *FailoverProvider) each(ctx context.Context, op string, try func(domain.Provider) (final bool, err error)) error {
	if len(fp.providers) == 0 {
		return errors.New("failover chain is empty")
	}
	var errs []error
	for i, p := range fp.providers {
		final, err := try(p)
		if err == nil {
			if i > 0 {
				fp.logger.Info("answered by fallback provider", "op", op, "provider", p.Name(), "attempt", i+1)
			}
			return nil
		}
		if final || ctx.Err() != nil {
			return err
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		fp.logger.Warn("provider failed, trying next",
			"op", op,
			"provider", p.Name(),
			"attempt", i+1,
			"err", err,
		)
	}
	return fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

func (fp *FailoverProvider) streamOne(ctx context.Context, p domain.Provider, req domain.ChatRequest, out chan<- domain.StreamEvent) (bool, error) {
	sp, ok := p.(domain.StreamingProvider)
	if !ok {
		resp, err := p.Chat(ctx, req)
		if err != nil {
			return false, err
		}
		if resp.Content != "" {
			if err := send(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: resp.Content}); err != nil {
				return true, err
			}
		}
		return true, send(ctx, out, domain.StreamEvent{Type: domain.StreamDone, Content: resp.Content})
	}

	inner := make(chan domain.StreamEvent, 64)
	errc := make(chan error, 1)
	go func() { errc <- sp.ChatStream(ctx, req, inner) }()

	emitted := false
	var sendErr error
	for evt := range inner {
		if sendErr != nil {
			continue // drain so the provider can finish
		}
		if evt.Type == domain.StreamToken && evt.Content != "" {
			emitted = true
		}
		sendErr = send(ctx, out, evt)
	}
	if err := <-errc; err != nil {
		return emitted, err
	}
	return emitted, sendErr
}
