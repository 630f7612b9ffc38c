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

	"mediinterpret/internal/attachment"
	"mediinterpret/internal/domain"
)

const (
	openAIDefaultBase  = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAI talks to any server that speaks the chat completions API: OpenAI
// itself, Groq, OpenRouter, LM Studio and the like. Images travel as data
// URLs and PDFs as file parts.
type OpenAI struct {
	name        string
	apiKey      string
	apiBase     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

type OpenAIConfig struct {
	Name        string // reported provider name, "openai" when empty
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64
	Client      *http.Client
	Logger      *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	return &OpenAI{
		name:        cmp.Or(cfg.Name, "openai"),
		apiKey:      cfg.APIKey,
		apiBase:     strings.TrimRight(cmp.Or(cfg.APIBase, openAIDefaultBase), "/"),
		model:       cmp.Or(cfg.Model, openAIDefaultModel),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      clientOrDefault(cfg.Client),
		logger:      cmp.Or(cfg.Logger, slog.Default()),
	}
}

func (o *OpenAI) Name() string     { return o.name }
func (o *OpenAI) Models() []string { return []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"} }

func (o *OpenAI) authorize(r *http.Request) {
	if o.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
}

// Healthy lists the server's models, which also proves the key.
func (o *OpenAI) Healthy(ctx context.Context) error {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	o.authorize(r)
	resp, err := o.client.Do(r)
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", o.name, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: invalid API key", o.name)
	}
	return statusError(o.name, resp)
}

type oaiRequest struct {
	Model         string            `json:"model"`
	Messages      []oaiMessage      `json:"messages"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	Stream        bool              `json:"stream"`
	StreamOptions *oaiStreamOptions `json:"stream_options,omitempty"`
}

type oaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// oaiMessage content is a plain string, or a list of parts when the turn
// carries an attachment.
type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaiPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
	File     *oaiFile     `json:"file,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiFile struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data"`
}

// oaiText is the message of a whole answer or the delta of a streamed one.
type oaiText struct {
	Content string `json:"content"`
}

// oaiResponse decodes both whole answers and stream chunks. Some compatible
// servers report failures mid-stream in the error field.
type oaiResponse struct {
	Choices []struct {
		Message      oaiText `json:"message"`
		Delta        oaiText `json:"delta"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (r *oaiResponse) usage() domain.Usage {
	if r.Usage == nil {
		return domain.Usage{}
	}
	return domain.Usage{
		PromptTokens:     r.Usage.PromptTokens,
		CompletionTokens: r.Usage.CompletionTokens,
		TotalTokens:      r.Usage.TotalTokens,
	}
}

// oaiContent puts attachments before the turn's text, matching the order
// the user saw them in.
func oaiContent(c domain.Content) any {
	atts := c.Attachments()
	if len(atts) == 0 {
		return c.Text()
	}
	parts := make([]oaiPart, 0, len(atts)+1)
	for i := range atts {
		att := &atts[i]
		if att.IsPDF() {
			parts = append(parts, oaiPart{Type: "file", File: &oaiFile{Filename: att.Name, FileData: attachment.DataURL(att)}})
		} else {
			parts = append(parts, oaiPart{Type: "image_url", ImageURL: &oaiImageURL{URL: attachment.DataURL(att)}})
		}
	}
	if text := c.Text(); text != "" {
		parts = append(parts, oaiPart{Type: "text", Text: text})
	}
	return parts
}

func (o *OpenAI) buildRequest(req domain.ChatRequest, stream bool) oaiRequest {
	body := oaiRequest{
		Model:     cmp.Or(req.Model, o.model),
		Messages:  make([]oaiMessage, 0, len(req.Contents)+1),
		MaxTokens: cmp.Or(max(req.MaxTokens, 0), o.maxTokens),
		Stream:    stream,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, oaiMessage{Role: "system", Content: req.System})
	}
	for _, c := range req.Contents {
		role := "user"
		if c.Role == domain.RoleModel {
			role = "assistant"
		}
		body.Messages = append(body.Messages, oaiMessage{Role: role, Content: oaiContent(c)})
	}
	if temp := cmp.Or(max(req.Temperature, 0), o.temperature); temp > 0 {
		body.Temperature = &temp
	}
	if stream {
		body.StreamOptions = &oaiStreamOptions{IncludeUsage: true}
	}
	return body
}

func (o *OpenAI) post(ctx context.Context, body oaiRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		o.authorize(r)
		if body.Stream {
			r.Header.Set("Accept", "text/event-stream")
		}
		return r, nil
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", o.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(o.name, resp)
	}
	return resp, nil
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	resp, err := o.post(ctx, o.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var r oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", o.name, err)
	}
	if r.Error != nil {
		return nil, fmt.Errorf("%s: %s", o.name, r.Error.Message)
	}
	out := &domain.ChatResponse{FinishReason: "stop", Usage: r.usage()}
	if len(r.Choices) > 0 {
		out.Content = r.Choices[0].Message.Content
		out.FinishReason = cmp.Or(r.Choices[0].FinishReason, out.FinishReason)
	}
	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}

func (o *OpenAI) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	resp, err := o.post(ctx, o.buildRequest(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var full strings.Builder
	err = readSSE(ctx, resp.Body, func(data string) error {
		var chunk oaiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			o.logger.Debug("skipping malformed stream chunk", "provider", o.name, "err", err)
			return nil
		}
		if chunk.Error != nil {
			return errors.New(chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason == "length" {
				o.logger.Warn("answer cut at max_tokens", "provider", o.name, "max_tokens", o.maxTokens)
			}
			if text := choice.Delta.Content; text != "" {
				full.WriteString(text)
				if err := send(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: text}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s stream: %w", o.name, err)
	}
	return send(ctx, out, domain.StreamEvent{Type: domain.StreamDone, Content: full.String()})
}
