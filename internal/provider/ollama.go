package provider

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"mediinterpret/internal/domain"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.2-vision"
)

// ollamaVisionModels are offered until /api/tags has been read.
var ollamaVisionModels = []string{"llama3.2-vision", "llava", "gemma3", "qwen2.5vl"}

// Ollama streams from a local or hosted Ollama server. Images travel in the
// message's images field. The chat API has no document input, so PDFs are
// dropped with a warning.
type Ollama struct {
	apiBase     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *slog.Logger

	mu     sync.Mutex
	pulled []string // from the last /api/tags
}

type OllamaConfig struct {
	APIBase      string
	APIKey       string // hosted Ollama only
	DefaultModel string
	MaxTokens    int
	Temperature  float64
	Client       *http.Client
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	return &Ollama{
		apiBase:     strings.TrimRight(cmp.Or(cfg.APIBase, ollamaDefaultBase), "/"),
		apiKey:      cfg.APIKey,
		model:       cmp.Or(cfg.DefaultModel, ollamaDefaultModel),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      clientOrDefault(cfg.Client),
		logger:      cmp.Or(cfg.Logger, slog.Default()),
	}
}

func (o *Ollama) Name() string { return "ollama" }

// Models lists the models pulled on the server once Healthy has run, and
// common vision models before that.
func (o *Ollama) Models() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pulled) > 0 {
		return slices.Clone(o.pulled)
	}
	return slices.Clone(ollamaVisionModels)
}

// Healthy checks that the server answers and that the configured model has
// been pulled.
func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	o.authorize(req)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("ollama", resp)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("ollama: decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	o.mu.Lock()
	o.pulled = names
	o.mu.Unlock()

	if !slices.ContainsFunc(names, func(n string) bool { return sameModel(n, o.model) }) {
		return fmt.Errorf("ollama: model %s is not pulled (run `ollama pull %s`)", o.model, o.model)
	}
	return nil
}

// sameModel treats "llava" and "llava:latest" as the same model.
func sameModel(a, b string) bool {
	tag := func(s string) string {
		if strings.Contains(s, ":") {
			return s
		}
		return s + ":latest"
	}
	return tag(a) == tag(b)
}

func (o *Ollama) authorize(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
}

// ollamaRequest is the /api/chat request body.
type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaMsg struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChunk is a whole response, or one line of a streamed one.
type ollamaChunk struct {
	Message         ollamaMsg `json:"message"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
	Error           string    `json:"error"`
}

func (o *Ollama) buildRequest(req domain.ChatRequest, stream bool) ollamaRequest {
	body := ollamaRequest{Model: cmp.Or(req.Model, o.model), Stream: stream}
	if req.System != "" {
		body.Messages = append(body.Messages, ollamaMsg{Role: "system", Content: req.System})
	}
	for _, c := range req.Contents {
		msg := ollamaMsg{Role: "user", Content: c.Text()}
		if c.Role == domain.RoleModel {
			msg.Role = "assistant"
		}
		for _, att := range c.Attachments() {
			if att.IsImage() {
				msg.Images = append(msg.Images, att.Data)
			} else {
				o.logger.Warn("ollama: dropping non-image attachment", "mime_type", att.MimeType)
			}
		}
		body.Messages = append(body.Messages, msg)
	}

	opts := ollamaOptions{
		Temperature: cmp.Or(max(req.Temperature, 0), o.temperature),
		NumPredict:  cmp.Or(max(req.MaxTokens, 0), o.maxTokens),
	}
	if opts != (ollamaOptions{}) {
		body.Options = &opts
	}
	return body
}

func (o *Ollama) post(ctx context.Context, body ollamaRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/chat", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		o.authorize(r)
		return r, nil
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("ollama", resp)
	}
	return resp, nil
}

func (o *Ollama) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	resp, err := o.post(ctx, o.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chunk ollamaChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if chunk.Error != "" {
		return nil, fmt.Errorf("ollama: %s", chunk.Error)
	}
	return &domain.ChatResponse{
		Content:      chunk.Message.Content,
		FinishReason: chunk.DoneReason,
		Usage: domain.Usage{
			PromptTokens:     chunk.PromptEvalCount,
			CompletionTokens: chunk.EvalCount,
			TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// ChatStream reads the NDJSON stream until a line has done=true.
func (o *Ollama) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	resp, err := o.post(ctx, o.buildRequest(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var full strings.Builder
	err = readNDJSON(ctx, resp.Body, func(line []byte) error {
		var chunk ollamaChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("stream decode: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama: %s", chunk.Error)
		}
		if text := chunk.Message.Content; text != "" {
			full.WriteString(text)
			if err := send(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: text}); err != nil {
				return err
			}
		}
		if chunk.Done {
			return errStopStream
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ollama stream: %w", err)
	}
	return send(ctx, out, domain.StreamEvent{Type: domain.StreamDone, Content: full.String()})
}
