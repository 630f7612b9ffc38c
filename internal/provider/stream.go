package provider

import (
	"context"
	"errors"
	"strings"

	"mediinterpret/internal/domain"
)

// send delivers evt unless ctx is cancelled first.
func send(ctx context.Context, out chan<- domain.StreamEvent, evt domain.StreamEvent) error {
	select {
	case out <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stream runs req against p and calls onChunk with every text chunk as it
// arrives. Providers without streaming support deliver their whole answer
// as a single chunk. The full answer is returned.
func Stream(ctx context.Context, p domain.Provider, req domain.ChatRequest, onChunk func(chunk string)) (string, error) {
	sp, ok := p.(domain.StreamingProvider)
	if !ok {
		resp, err := p.Chat(ctx, req)
		if err != nil {
			return "", err
		}
		if resp.Content != "" && onChunk != nil {
			onChunk(resp.Content)
		}
		return resp.Content, nil
	}

	out := make(chan domain.StreamEvent, 64)
	errc := make(chan error, 1)
	go func() { errc <- sp.ChatStream(ctx, req, out) }()

	var full strings.Builder
	var streamErr error
	for evt := range out {
		switch evt.Type {
		case domain.StreamToken:
			if evt.Content == "" {
				continue
			}
			full.WriteString(evt.Content)
			if onChunk != nil {
				onChunk(evt.Content)
			}
		case domain.StreamError:
			streamErr = errors.New(evt.Content)
		}
	}

	if err := <-errc; err != nil {
		return full.String(), err
	}
	return full.String(), streamErr
}
