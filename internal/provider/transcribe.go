package provider

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"
)

// maxAudioBytes is the upload limit of the OpenAI and Groq transcription APIs.
const maxAudioBytes = 25 << 20

var (
	ErrAudioTooLarge = errors.New("voice message is too large to transcribe")
	ErrNoSpeech      = errors.New("no speech recognised")
)

type TranscriberConfig struct {
	APIBase  string // e.g. "https://api.groq.com/openai/v1"
	APIKey   string
	Model    string // e.g. "whisper-large-v3"
	Language string // optional ISO-639-1 hint
	// Prompt biases recognition toward its vocabulary, e.g. drug names.
	Prompt string
	Client *http.Client
	Logger *slog.Logger
}

// Transcriber turns recorded questions into text through an
// OpenAI-compatible /audio/transcriptions endpoint.
type Transcriber struct {
	endpoint string
	apiKey   string
	fields   map[string]string
	client   *http.Client
	logger   *slog.Logger
}

func NewTranscriber(cfg TranscriberConfig) *Transcriber {
	fields := map[string]string{
		"model":           cmp.Or(cfg.Model, "whisper-large-v3"),
		"response_format": "verbose_json",
	}
	if cfg.Language != "" {
		fields["language"] = cfg.Language
	}
	if cfg.Prompt != "" {
		fields["prompt"] = cfg.Prompt
	}
	return &Transcriber{
		endpoint: strings.TrimRight(cmp.Or(cfg.APIBase, "https://api.groq.com/openai/v1"), "/") + "/audio/transcriptions",
		apiKey:   cfg.APIKey,
		fields:   fields,
		client:   clientOrDefault(cfg.Client),
		logger:   cmp.Or(cfg.Logger, slog.Default()),
	}
}

// form encodes audio and the request fields as multipart/form-data.
func (t *Transcriber) form(audio []byte, filename string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", cmp.Or(mime.TypeByExtension(filepath.Ext(filename)), "application/octet-stream"))
	part, err := w.CreatePart(hdr)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	for k, v := range t.fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Transcribe uploads audio and returns the recognised text. filename must
// carry the audio extension (e.g. "voice.ogg").
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(io.LimitReader(audio, maxAudioBytes+1))
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if len(data) > maxAudioBytes {
		return "", ErrAudioTooLarge
	}
	payload, contentType, err := t.form(data, filename)
	if err != nil {
		return "", fmt.Errorf("encode upload: %w", err)
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, t.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		if t.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+t.apiKey)
		}
		return req, nil
	}, t.logger)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError("transcription", resp)
	}

	var result struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	t.logger.Info("voice transcribed",
		"chars", len(text),
		"language", result.Language,
		"audio_seconds", result.Duration,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}
