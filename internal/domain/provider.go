package domain

import (
	"context"
	"strings"
)

// Provider is the interface all LLM providers must implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}

// StreamingProvider is an optional extension for providers that deliver the
// answer incrementally. ChatStream closes out before returning.
type StreamingProvider interface {
	Provider
	ChatStream(ctx context.Context, req ChatRequest, out chan<- StreamEvent) error
}

// StreamEventType classifies a streaming event.
type StreamEventType string

const (
	StreamToken StreamEventType = "token"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// StreamEvent represents a single streaming event from an LLM provider.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"` // token text, full text on done, or error message
}

// ChatRequest is a provider-neutral generation request: one system
// instruction plus the alternating user/model history.
type ChatRequest struct {
	System      string
	Contents    []Content
	Model       string
	MaxTokens   int
	Temperature float64
}

// Content is one turn of the conversation sent to the provider.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is either text or inline binary data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *Attachment `json:"inlineData,omitempty"`
}

// Text returns the concatenated text parts.
func (c Content) Text() string {
	var b strings.Builder
	for _, p := range c.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Attachments returns the inline data parts.
func (c Content) Attachments() []Attachment {
	var out []Attachment
	for _, p := range c.Parts {
		if p.InlineData != nil {
			out = append(out, *p.InlineData)
		}
	}
	return out
}

type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
