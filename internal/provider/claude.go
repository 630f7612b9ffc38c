package provider

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mediinterpret/internal/domain"
)

const (
	claudeDefaultBase  = "https://api.anthropic.com/v1"
	claudeAPIVersion   = "2023-06-01"
	claudeDefaultModel = "claude-sonnet-4-5"
	defaultMaxTokens   = 4096
)

// Claude talks to the Anthropic messages API. Images go out as image
// blocks and PDFs as document blocks, both base64.
type Claude struct {
	apiKey      string
	apiBase     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

type ClaudeConfig struct {
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64
	Client      *http.Client
	Logger      *slog.Logger
}

func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Claude{
		apiKey:      cfg.APIKey,
		apiBase:     strings.TrimRight(cmp.Or(cfg.APIBase, claudeDefaultBase), "/"),
		model:       cmp.Or(cfg.Model, claudeDefaultModel),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      clientOrDefault(cfg.Client),
		logger:      cmp.Or(cfg.Logger, slog.Default()),
	}
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Models() []string {
	return []string{"claude-sonnet-4-5", "claude-opus-4-1", "claude-3-5-haiku-latest"}
}

var errClaudeNoKey = errors.New("claude: no API key configured")

func (c *Claude) Healthy(ctx context.Context) error {
	if c.apiKey == "" {
		return errClaudeNoKey
	}
	return nil
}

type claudeRequest struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	System      string      `json:"system,omitempty"`
	Messages    []claudeMsg `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

type claudeMsg struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type   string        `json:"type"` // text, image or document
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	Content    []claudeBlock `json:"content"`
	StopReason string        `json:"stop_reason"`
	Usage      claudeUsage   `json:"usage"`
}

// claudeEvent is one server-sent event of a streamed answer. Only the
// fields this client reads are declared.
type claudeEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func claudeBlocks(parts []domain.Part) []claudeBlock {
	var blocks []claudeBlock
	for _, p := range parts {
		switch att := p.InlineData; {
		case att != nil:
			kind := "image"
			if att.IsPDF() {
				kind = "document"
			}
			blocks = append(blocks, claudeBlock{
				Type:   kind,
				Source: &claudeSource{Type: "base64", MediaType: att.MimeType, Data: att.Data},
			})
		case p.Text != "":
			blocks = append(blocks, claudeBlock{Type: "text", Text: p.Text})
		}
	}
	return blocks
}

func (c *Claude) buildRequest(req domain.ChatRequest, stream bool) claudeRequest {
	body := claudeRequest{
		Model:     cmp.Or(req.Model, c.model),
		MaxTokens: c.maxTokens,
		System:    req.System,
		Stream:    stream,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if temp := cmp.Or(max(req.Temperature, 0), c.temperature); temp > 0 {
		body.Temperature = &temp
	}
	for _, content := range req.Contents {
		blocks := claudeBlocks(content.Parts)
		if len(blocks) == 0 {
			continue
		}
		role := "user"
		if content.Role == domain.RoleModel {
			role = "assistant"
		}
		body.Messages = append(body.Messages, claudeMsg{Role: role, Content: blocks})
	}
	return body
}

func (c *Claude) post(ctx context.Context, body claudeRequest) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, errClaudeNoKey
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	resp, err := doWithRetry(ctx, c.client, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/messages", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("x-api-key", c.apiKey)
		r.Header.Set("anthropic-version", claudeAPIVersion)
		if body.Stream {
			r.Header.Set("Accept", "text/event-stream")
		}
		return r, nil
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("claude request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("claude", resp)
	}
	return resp, nil
}

func (c *Claude) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	resp, err := c.post(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("claude: decode: %w", err)
	}
	var text strings.Builder
	for _, b := range cr.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &domain.ChatResponse{
		Content:      text.String(),
		FinishReason: cr.StopReason,
		Usage: domain.Usage{
			PromptTokens:     cr.Usage.InputTokens,
			CompletionTokens: cr.Usage.OutputTokens,
			TotalTokens:      cr.Usage.InputTokens + cr.Usage.OutputTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// ChatStream sends text deltas as they arrive. An error event from the API
// ends the stream with that error.
func (c *Claude) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	resp, err := c.post(ctx, c.buildRequest(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var full strings.Builder
	err = readSSE(ctx, resp.Body, func(data string) error {
		var evt claudeEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			c.logger.Debug("claude: skipping malformed event", "err", err)
			return nil
		}
		switch evt.Type {
		case "content_block_delta":
			if evt.Delta.Type != "text_delta" || evt.Delta.Text == "" {
				return nil
			}
			full.WriteString(evt.Delta.Text)
			return send(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: evt.Delta.Text})
		case "message_delta":
			if evt.Delta.StopReason == "max_tokens" {
				c.logger.Warn("claude: answer cut at max_tokens", "max_tokens", c.maxTokens)
			}
		case "message_stop":
			return errStopStream
		case "error":
			return fmt.Errorf("%s: %s", evt.Error.Type, evt.Error.Message)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("claude stream: %w", err)
	}
	return send(ctx, out, domain.StreamEvent{Type: domain.StreamDone, Content: full.String()})
}
