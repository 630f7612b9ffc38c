package channel

import (
	"cmp"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"mediinterpret/internal/attachment"
	"mediinterpret/internal/chat"
	"mediinterpret/internal/consult"
	"mediinterpret/internal/domain"
	"mediinterpret/internal/markdown"
)

const (
	webhookSignatureHeader = "X-Signature-256"
	webhookSignaturePrefix = "sha256="
	webhookMaxBody         = 32 << 20
)

var (
	errMissingSignature = &requestError{status: http.StatusUnauthorized, msg: "missing signature"}
	errBadSignature     = &requestError{status: http.StatusForbidden, msg: "invalid signature"}
)

type WebhookConfig struct {
	Host    string
	Port    int    // 9090 when zero
	Path    string // "/webhook" when empty
	Secret  string // signs request bodies; empty accepts unsigned requests
	Chat    *chat.Manager
	Encoder *attachment.Encoder
	Logger  *slog.Logger
}

// Webhook is a signed JSON endpoint for other systems, such as a patient
// portal, that cannot consume server-sent events. Each request carries one
// question and receives the complete answer. Requests with the same
// conversationId continue the same consultation.
type Webhook struct {
	addr    string
	path    string
	secret  []byte
	chat    *chat.Manager
	encoder *attachment.Encoder
	logger  *slog.Logger
	server  *http.Server

	mu            sync.Mutex
	conversations map[string]string // conversationId -> consultation id
}

// WebhookRequest is the expected JSON body.
type WebhookRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Type           string `json:"type,omitempty"` // used when a new consultation starts
	Message        string `json:"message"`
	Attachment     string `json:"attachment,omitempty"` // data URL
	AttachmentName string `json:"attachmentName,omitempty"`
}

// WebhookResponse carries the answer as markdown and as rendered HTML.
type WebhookResponse struct {
	ConversationID string `json:"conversationId,omitempty"`
	ConsultationID string `json:"consultationId"`
	MessageID      string `json:"messageId"`
	Answer         string `json:"answer"`
	HTML           string `json:"html"`
	IsError        bool   `json:"isError"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	w := &Webhook{
		addr:          net.JoinHostPort(cfg.Host, strconv.Itoa(cmp.Or(cfg.Port, 9090))),
		path:          cmp.Or(cfg.Path, "/webhook"),
		chat:          cfg.Chat,
		encoder:       cfg.Encoder,
		logger:        cmp.Or(cfg.Logger, slog.Default()),
		conversations: make(map[string]string),
	}
	if cfg.Secret != "" {
		w.secret = []byte(cfg.Secret)
	}
	if w.encoder == nil {
		w.encoder = attachment.NewEncoder(0, nil)
	}
	return w
}

func (w *Webhook) Name() string { return "webhook" }

// Handler returns the HTTP handler, for embedding and tests.
func (w *Webhook) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+w.path, w.handleWebhook)
	return mux
}

// Start listens before returning control to the serve loop, so a port that
// is taken fails Start instead of a background goroutine.
func (w *Webhook) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("webhook listen: %w", err)
	}
	w.server = &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       time.Minute,
	}
	if w.secret == nil {
		w.logger.Warn("webhook has no secret, requests are not authenticated")
	}
	w.logger.Info("webhook listening", "addr", ln.Addr().String(), "path", w.path)

	served := make(chan error, 1)
	go func() { served <- w.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		return w.Stop()
	case err := <-served:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) Stop() error {
	if w.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Shutdown(ctx)
}

// authenticate checks the body's signature when a secret is configured.
func (w *Webhook) authenticate(r *http.Request, body []byte) error {
	if w.secret == nil {
		return nil
	}
	sig := r.Header.Get(webhookSignatureHeader)
	switch {
	case sig == "":
		return errMissingSignature
	case !verifyHMAC(body, string(w.secret), sig):
		return errBadSignature
	}
	return nil
}

// decode parses the request and its optional attachment.
func (w *Webhook) decode(body []byte) (WebhookRequest, *domain.Attachment, error) {
	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, nil, &requestError{status: http.StatusBadRequest, msg: "invalid JSON: " + err.Error()}
	}
	var att *domain.Attachment
	if req.Attachment != "" {
		var err error
		if att, err = w.encoder.FromDataURL(cmp.Or(req.AttachmentName, "attachment"), req.Attachment); err != nil {
			return req, nil, err
		}
	}
	if strings.TrimSpace(req.Message) == "" && att == nil {
		return req, nil, chat.ErrEmptyMessage
	}
	return req, att, nil
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, webhookMaxBody))
	if err == nil {
		err = w.authenticate(r, body)
	}
	if err != nil {
		w.writeError(rw, err)
		return
	}
	req, att, err := w.decode(body)
	if err != nil {
		w.writeError(rw, err)
		return
	}
	id, err := w.consultation(r.Context(), req)
	if err != nil {
		w.writeError(rw, err)
		return
	}

	w.logger.Debug("webhook question", "conversation_id", req.ConversationID, "consultation_id", id,
		"chars", len(req.Message), "attachment", att != nil)

	msg, err := w.chat.Send(r.Context(), id, req.Message, att, nil)
	if err != nil {
		w.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, WebhookResponse{
		ConversationID: req.ConversationID,
		ConsultationID: id,
		MessageID:      msg.ID,
		Answer:         msg.Text,
		HTML:           markdown.RenderHTML(markdown.Parse(msg.Text)),
		IsError:        msg.IsError,
	})
}

// consultation returns the consultation for the request, starting one
// when the conversation is new or its consultation is gone.
func (w *Webhook) consultation(ctx context.Context, req WebhookRequest) (string, error) {
	if id := w.lookup(req.ConversationID); id != "" {
		_, err := w.chat.Get(ctx, id)
		switch {
		case err == nil:
			return id, nil
		case !errors.Is(err, chat.ErrNotFound):
			return "", err
		}
	}

	typ := consult.DefaultType
	if req.Type != "" {
		t, err := consult.ParseType(req.Type)
		if err != nil {
			return "", &requestError{status: http.StatusBadRequest, msg: err.Error()}
		}
		typ = t
	}
	s, err := w.chat.Start(ctx, typ, "webhook")
	if err != nil {
		return "", err
	}
	if req.ConversationID != "" {
		w.mu.Lock()
		w.conversations[req.ConversationID] = s.ID
		w.mu.Unlock()
	}
	return s.ID, nil
}

func (w *Webhook) lookup(conversationID string) string {
	if conversationID == "" {
		return ""
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conversations[conversationID]
}

func (w *Webhook) writeError(rw http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		w.logger.Error("webhook request failed", "err", err)
		msg = "internal error"
	}
	writeJSON(rw, status, map[string]string{"error": msg})
}

// SignWebhookBody returns the signature header value for body.
func SignWebhookBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return webhookSignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignWebhookBody(body, secret)), []byte(signature))
}
