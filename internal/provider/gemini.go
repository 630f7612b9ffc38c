package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediinterpret/internal/domain"
)

const (
	geminiDefaultBase  = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-2.5-flash"
)

// Gemini implements domain.StreamingProvider for the Gemini REST API.
type Gemini struct {
	apiKey      string
	apiBase     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

type GeminiConfig struct {
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64
	Client      *http.Client
	Logger      *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.APIBase == "" {
		cfg.APIBase = geminiDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gemini{
		apiKey:      cfg.APIKey,
		apiBase:     strings.TrimRight(cfg.APIBase, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      clientOrDefault(cfg.Client),
		logger:      cfg.Logger,
	}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Models() []string {
	return []string{"gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.0-flash"}
}

func (g *Gemini) Healthy(ctx context.Context) error {
	if g.apiKey == "" {
		return fmt.Errorf("gemini: API key is missing")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+"/models/"+url.PathEscape(g.model), nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gemini not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("gemini", resp)
	}
	return nil
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (r *geminiResponse) text() string {
	var b strings.Builder
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
		break
	}
	return b.String()
}

func (r *geminiResponse) finishReason() string {
	if len(r.Candidates) > 0 {
		return r.Candidates[0].FinishReason
	}
	return ""
}

func (g *Gemini) buildRequest(req domain.ChatRequest) geminiRequest {
	body := geminiRequest{Contents: make([]geminiContent, 0, len(req.Contents))}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, c := range req.Contents {
		gc := geminiContent{Role: "user"}
		if c.Role == domain.RoleModel {
			gc.Role = "model"
		}
		for _, p := range c.Parts {
			if p.InlineData != nil {
				gc.Parts = append(gc.Parts, geminiPart{InlineData: &geminiInlineData{
					MimeType: p.InlineData.MimeType,
					Data:     p.InlineData.Data,
				}})
				continue
			}
			if p.Text != "" {
				gc.Parts = append(gc.Parts, geminiPart{Text: p.Text})
			}
		}
		if len(gc.Parts) == 0 {
			continue
		}
		body.Contents = append(body.Contents, gc)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = g.temperature
	}
	if maxTokens > 0 || temp > 0 {
		body.GenerationConfig = &geminiGenerationConfig{MaxOutputTokens: maxTokens}
		if temp > 0 {
			body.GenerationConfig.Temperature = &temp
		}
	}
	return body
}

func (g *Gemini) post(ctx context.Context, req domain.ChatRequest, method string) (*http.Response, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is missing")
	}
	model := req.Model
	if model == "" {
		model = g.model
	}

	jsonBody, err := json.Marshal(g.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	endpoint := g.apiBase + "/models/" + url.PathEscape(model) + ":" + method
	resp, err := doWithRetry(ctx, g.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", g.apiKey)
		return httpReq, nil
	}, g.logger)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("gemini", resp)
	}
	return resp, nil
}

func (g *Gemini) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	resp, err := g.post(ctx, req, "generateContent")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if gr.PromptFeedback.BlockReason != "" && len(gr.Candidates) == 0 {
		return nil, fmt.Errorf("gemini blocked the prompt: %s", gr.PromptFeedback.BlockReason)
	}

	return &domain.ChatResponse{
		Content:      gr.text(),
		FinishReason: gr.finishReason(),
		Usage: domain.Usage{
			PromptTokens:     gr.UsageMetadata.PromptTokenCount,
			CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gr.UsageMetadata.TotalTokenCount,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// ChatStream uses streamGenerateContent with alt=sse. Each event carries a
// partial candidate whose text is appended to the answer.
func (g *Gemini) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	resp, err := g.post(ctx, req, "streamGenerateContent?alt=sse")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var full strings.Builder
	err = readSSE(ctx, resp.Body, func(data string) error {
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			g.logger.Debug("gemini: skipping malformed stream chunk", "err", err)
			return nil
		}
		if chunk.PromptFeedback.BlockReason != "" && len(chunk.Candidates) == 0 {
			return fmt.Errorf("gemini blocked the prompt: %s", chunk.PromptFeedback.BlockReason)
		}
		if text := chunk.text(); text != "" {
			full.WriteString(text)
			return send(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: text})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("gemini stream: %w", err)
	}
	return send(ctx, out, domain.StreamEvent{Type: domain.StreamDone, Content: full.String()})
}
