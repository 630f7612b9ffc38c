package channel

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"mediinterpret/internal/attachment"
	"mediinterpret/internal/chat"
	"mediinterpret/internal/config"
	"mediinterpret/internal/consult"
	"mediinterpret/internal/domain"
	"mediinterpret/internal/export"
	"mediinterpret/internal/markdown"
	"mediinterpret/internal/metrics"
)

const (
	maxBodySize    = 1 << 20 // JSON bodies without an attachment
	cookieName     = "mediinterpret_consultation"
	cookieMaxAge   = 86400 * 30 // 30 days
	shutdownPeriod = 5 * time.Second
)

//go:embed web_templates/*.html
var templateFS embed.FS

//go:embed web_assets/*
var assetsFS embed.FS

// TranscriptExporter prints a consultation transcript, e.g. to PDF.
type TranscriptExporter interface {
	Transcript(ctx context.Context, t export.Transcript) ([]byte, error)
}

// Web implements domain.Channel for the browser UI and its JSON API.
type Web struct {
	host     string
	port     int
	logger   *slog.Logger
	server   *http.Server
	handler  http.Handler
	tmpl     *htmltemplate.Template
	version  string
	chat     *chat.Manager
	encoder  *attachment.Encoder
	files    *attachment.Store
	exporter TranscriptExporter

	cfg     *config.Config
	cfgPath string
	cfgMu   sync.RWMutex

	authEnabled  bool
	authUser     string
	authPassHash string
}

type WebConfig struct {
	Host     string
	Port     int
	Logger   *slog.Logger
	Config   *config.Config
	Chat     *chat.Manager
	Encoder  *attachment.Encoder
	Files    *attachment.Store  // optional, serves stored attachments
	Exporter TranscriptExporter // optional, enables PDF export
	// ConfigPath, when set, is where config changes made in the UI are saved.
	ConfigPath string
	Version    string
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Encoder == nil {
		cfg.Encoder = attachment.NewEncoder(0, nil)
	}

	tmpl := htmltemplate.Must(htmltemplate.ParseFS(templateFS, "web_templates/*.html"))

	w := &Web{
		host:     cfg.Host,
		port:     cfg.Port,
		logger:   cfg.Logger,
		tmpl:     tmpl,
		version:  cfg.Version,
		chat:     cfg.Chat,
		encoder:  cfg.Encoder,
		files:    cfg.Files,
		exporter: cfg.Exporter,
		cfg:      cfg.Config,
		cfgPath:  cfg.ConfigPath,
	}

	metricsPath := ""
	if cfg.Config != nil {
		if cfg.Config.Channels.Web.Auth.Enabled {
			w.authEnabled = true
			w.authUser = cfg.Config.Channels.Web.Auth.Username
			w.authPassHash = cfg.Config.Channels.Web.Auth.PasswordHash
		}
		if cfg.Config.Metrics.Enabled {
			metricsPath = cfg.Config.Metrics.Endpoint
			if metricsPath == "" {
				metricsPath = "/metrics"
			}
		}
	}

	w.handler = w.routes(metricsPath)
	return w
}

func (w *Web) Name() string { return "web" }

// Handler returns the HTTP handler, for tests and embedding.
func (w *Web) Handler() http.Handler { return w.handler }

func (w *Web) routes(metricsPath string) http.Handler {
	mux := http.NewServeMux()

	assetsHandler := http.FileServer(http.FS(assetsFS))
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		r.URL.Path = "web_assets/" + r.URL.Path
		rw.Header().Set("Cache-Control", "public, max-age=86400")
		assetsHandler.ServeHTTP(rw, r)
	})))

	mux.HandleFunc("GET /{$}", w.requireAuth(w.handleLanding))
	mux.HandleFunc("GET /chat", w.requireAuth(w.handleChat))
	mux.HandleFunc("POST /chat/start", w.requireAuth(w.handleStartForm))
	mux.HandleFunc("POST /chat/back", w.requireAuth(w.handleBackForm))

	mux.HandleFunc("GET /api/categories", w.requireAuth(w.handleCategories))
	mux.HandleFunc("GET /api/consultations", w.requireAuth(w.handleList))
	mux.HandleFunc("POST /api/consultations", w.requireAuth(w.handleStart))
	mux.HandleFunc("GET /api/consultations/{id}", w.requireAuth(w.handleGet))
	mux.HandleFunc("DELETE /api/consultations/{id}", w.requireAuth(w.handleDelete))
	mux.HandleFunc("POST /api/consultations/{id}/back", w.requireAuth(w.handleBack))
	mux.HandleFunc("POST /api/consultations/{id}/messages", w.requireAuth(w.handleSend))
	mux.HandleFunc("GET /api/consultations/{id}/export.html", w.requireAuth(w.handleExportHTML))
	mux.HandleFunc("GET /api/consultations/{id}/export.pdf", w.requireAuth(w.handleExportPDF))
	mux.HandleFunc("GET /api/attachments/{id}", w.requireAuth(w.handleAttachment))
	mux.HandleFunc("GET /ws", w.requireAuth(w.handleWebSocket))
	mux.HandleFunc("GET /api/config", w.requireAuth(w.handleGetConfig))
	mux.HandleFunc("PUT /api/config", w.requireAuth(w.handleUpdateConfig))

	mux.HandleFunc("GET /status", w.handleStatus) // public endpoint
	if metricsPath != "" {
		mux.HandleFunc("GET "+metricsPath, metrics.Default.Handler())
	}
	return mux
}

// Start serves the web UI until ctx is cancelled.
func (w *Web) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.logger.Info("web UI started", "addr", "http://"+addr, "auth", w.authEnabled)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownPeriod)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// requireAuth wraps a handler with HTTP Basic Auth when auth is enabled.
func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !w.authEnabled {
			next(rw, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !w.checkCredentials(user, pass) {
			rw.Header().Set("WWW-Authenticate", `Basic realm="MediInterpret"`)
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(rw, r)
	}
}

// checkCredentials compares the user name and the SHA-256 hex of the
// password in constant time.
func (w *Web) checkCredentials(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(w.authUser)) != 1 {
		return false
	}
	hash := sha256.Sum256([]byte(pass))
	got := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(w.authPassHash)) == 1
}

// --- Pages ---

func (w *Web) handleLanding(rw http.ResponseWriter, r *http.Request) {
	var recent []domain.Consultation
	if list, err := w.chat.List(r.Context(), 8); err == nil {
		recent = list
	}
	w.render(rw, "landing.html", map[string]any{
		"Title":      "MediInterpret",
		"Categories": w.chat.Catalog().List(),
		"Recent":     recent,
		"Version":    w.version,
	})
}

func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = consultationCookie(r)
	}
	if id == "" {
		http.Redirect(rw, r, "/", http.StatusSeeOther)
		return
	}

	s, err := w.chat.Get(r.Context(), id)
	if errors.Is(err, chat.ErrNotFound) {
		clearCookie(rw)
		http.Redirect(rw, r, "/", http.StatusSeeOther)
		return
	}
	if err != nil {
		w.logger.Error("load consultation", "id", id, "err", err)
		http.Error(rw, "failed to load consultation", http.StatusInternalServerError)
		return
	}
	setCookie(rw, s.ID)

	cat := w.chat.Catalog().Get(s.Type)
	msgs := make([]pageMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		msgs = append(msgs, w.pageMessageOf(m))
	}
	w.render(rw, "chat.html", map[string]any{
		"Title":       cat.Title + " | MediInterpret",
		"Category":    cat,
		"Session":     s,
		"Messages":    msgs,
		"ShowSuggest": len(s.Messages) <= 1,
		"CanExport":   w.exporter != nil,
		"MaxBytes":    w.encoder.MaxBytes(),
	})
}

func (w *Web) handleStartForm(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, maxBodySize)
	typ := domain.ConsultationType(r.FormValue("type"))
	s, err := w.chat.Start(r.Context(), typ, "web")
	if err != nil {
		w.logger.Error("start consultation", "err", err)
		http.Error(rw, "failed to start consultation", http.StatusInternalServerError)
		return
	}
	setCookie(rw, s.ID)
	http.Redirect(rw, r, "/chat", http.StatusSeeOther)
}

func (w *Web) handleBackForm(rw http.ResponseWriter, r *http.Request) {
	if id := consultationCookie(r); id != "" {
		w.chat.Back(id)
	}
	clearCookie(rw)
	http.Redirect(rw, r, "/", http.StatusSeeOther)
}

func (w *Web) render(rw http.ResponseWriter, name string, data any) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := w.tmpl.ExecuteTemplate(rw, name, data); err != nil {
		w.logger.Error("template error", "template", name, "err", err)
	}
}

// --- JSON API ---

func (w *Web) handleCategories(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, w.chat.Catalog().List())
}

func (w *Web) handleList(rw http.ResponseWriter, r *http.Request) {
	list, err := w.chat.List(r.Context(), 50)
	if err != nil {
		w.writeError(rw, err)
		return
	}
	if list == nil {
		list = []domain.Consultation{}
	}
	writeJSON(rw, http.StatusOK, list)
}

func (w *Web) handleStart(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil && err != io.EOF {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	typ := consult.DefaultType
	if req.Type != "" {
		t, err := consult.ParseType(req.Type)
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		typ = t
	}

	s, err := w.chat.Start(r.Context(), typ, "web")
	if err != nil {
		w.writeError(rw, err)
		return
	}
	setCookie(rw, s.ID)
	writeJSON(rw, http.StatusCreated, w.sessionViewOf(s))
}

func (w *Web) handleGet(rw http.ResponseWriter, r *http.Request) {
	s, err := w.chat.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		w.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, w.sessionViewOf(s))
}

func (w *Web) handleDelete(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := w.chat.Delete(r.Context(), id); err != nil {
		w.writeError(rw, err)
		return
	}
	if consultationCookie(r) == id {
		clearCookie(rw)
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "deleted"})
}

func (w *Web) handleBack(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	w.chat.Back(id)
	if consultationCookie(r) == id {
		clearCookie(rw)
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "closed"})
}

// handleSend accepts a question as multipart form (message + file) or JSON
// (text + data URL attachment) and streams the answer as server-sent
// events: update while streaming, then done or error.
func (w *Web) handleSend(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	text, att, err := w.readQuestion(rw, r)
	if err != nil {
		w.writeError(rw, err)
		return
	}
	if strings.TrimSpace(text) == "" && att == nil {
		w.writeError(rw, chat.ErrEmptyMessage)
		return
	}

	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "SSE not supported", http.StatusInternalServerError)
		return
	}

	metrics.SSEConnections.Inc()
	defer metrics.SSEConnections.Dec()

	sse := &sseWriter{rw: rw, flusher: flusher}
	msg, err := w.chat.Send(r.Context(), id, text, att, func(u chat.Update) {
		sse.event("update", streamPayloadOf(u))
	})
	if err != nil {
		if !sse.started {
			w.writeError(rw, err)
			return
		}
		sse.event("error", map[string]string{"error": err.Error()})
		return
	}

	view := w.messageViewOf(msg)
	if msg.IsError {
		sse.event("error", view)
		return
	}
	sse.event("done", view)
}

// readQuestion extracts the question text and optional attachment.
func (w *Web) readQuestion(rw http.ResponseWriter, r *http.Request) (string, *domain.Attachment, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var req struct {
			Text       string `json:"text"`
			Attachment string `json:"attachment"` // data URL
			Name       string `json:"name"`
		}
		// base64 inflates by 4/3, plus room for the JSON envelope.
		limit := w.encoder.MaxBytes()*4/3 + maxBodySize
		if err := json.NewDecoder(io.LimitReader(r.Body, limit)).Decode(&req); err != nil {
			return "", nil, &requestError{status: http.StatusBadRequest, msg: "invalid JSON: " + err.Error()}
		}
		if req.Attachment == "" {
			return req.Text, nil, nil
		}
		att, err := w.encoder.FromDataURL(req.Name, req.Attachment)
		return req.Text, att, err
	}

	r.Body = http.MaxBytesReader(rw, r.Body, w.encoder.MaxBytes()+maxBodySize)
	if err := r.ParseMultipartForm(maxBodySize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return "", nil, &requestError{status: http.StatusBadRequest, msg: "invalid form: " + err.Error()}
	}
	text := r.FormValue("message")

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return text, nil, nil
	}
	if err != nil {
		return "", nil, &requestError{status: http.StatusBadRequest, msg: "read file: " + err.Error()}
	}
	defer file.Close()

	att, err := w.encoder.FromReader(header.Filename, file, header.Header.Get("Content-Type"))
	return text, att, err
}

func (w *Web) handleExportHTML(rw http.ResponseWriter, r *http.Request) {
	t, err := w.transcript(r.Context(), r.PathValue("id"))
	if err != nil {
		w.writeError(rw, err)
		return
	}
	doc, err := export.RenderHTML(t)
	if err != nil {
		w.writeError(rw, err)
		return
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.Write(doc)
}

func (w *Web) handleExportPDF(rw http.ResponseWriter, r *http.Request) {
	if w.exporter == nil {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": export.ErrDisabled.Error()})
		return
	}
	t, err := w.transcript(r.Context(), r.PathValue("id"))
	if err != nil {
		w.writeError(rw, err)
		return
	}
	pdf, err := w.exporter.Transcript(r.Context(), t)
	if err != nil {
		w.logger.Error("pdf export failed", "id", t.Consultation.ID, "err", err)
		writeJSON(rw, http.StatusBadGateway, map[string]string{"error": "pdf export failed"})
		return
	}
	rw.Header().Set("Content-Type", "application/pdf")
	rw.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="consultation-%s.pdf"`, shortID(t.Consultation.ID)))
	rw.Write(pdf)
}

func (w *Web) transcript(ctx context.Context, id string) (export.Transcript, error) {
	s, err := w.chat.Get(ctx, id)
	if err != nil {
		return export.Transcript{}, err
	}
	return export.Transcript{
		Consultation: s.Consultation,
		Category:     w.chat.Catalog().Get(s.Type).Title,
		Messages:     s.Messages,
	}, nil
}

func (w *Web) handleAttachment(rw http.ResponseWriter, r *http.Request) {
	if w.files == nil {
		w.writeError(rw, chat.ErrNotFound)
		return
	}
	f, info, err := w.files.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		w.writeError(rw, err)
		return
	}
	defer f.Close()

	rw.Header().Set("Content-Type", info.MimeType)
	rw.Header().Set("Cache-Control", "private, max-age=86400")
	http.ServeContent(rw, r, info.Filename, info.CreatedAt, f)
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        w.version,
		"provider":       w.chat.ProviderName(),
		"activeSessions": metrics.ActiveSessions.Value(),
		"activeStreams":  metrics.ActiveStreams.Value(),
		"uptime":         metrics.Default.Uptime().Round(time.Second).String(),
		"time":           time.Now().Format(time.RFC3339),
	})
}

// --- Views ---

// messageView is a message as sent to the browser: attachment bytes are
// replaced by a URL and the text is pre-rendered to HTML.
type messageView struct {
	domain.Message
	HTML          string `json:"html"`
	AttachmentURL string `json:"attachmentUrl,omitempty"`
}

type sessionView struct {
	domain.Consultation
	Messages    []messageView `json:"messages"`
	IsLoading   bool          `json:"isLoading"`
	Suggestions []string      `json:"suggestions"`
}

// streamPayload is one streamed update of the answer being generated.
type streamPayload struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	HTML      string `json:"html"`
	Stable    int    `json:"stable"`
}

func streamPayloadOf(u chat.Update) streamPayload {
	return streamPayload{
		MessageID: u.MessageID,
		Text:      u.Text,
		HTML:      markdown.RenderHTML(u.Blocks),
		Stable:    u.Stable,
	}
}

func (w *Web) messageViewOf(m domain.Message) messageView {
	v := messageView{Message: m, HTML: messageHTML(m)}
	if m.Attachment != nil {
		v.AttachmentURL = w.attachmentURL(m.Attachment)
		att := *m.Attachment
		att.Data = ""
		v.Attachment = &att
	}
	return v
}

func (w *Web) sessionViewOf(s *chat.Session) sessionView {
	v := sessionView{
		Consultation: s.Consultation,
		Messages:     make([]messageView, 0, len(s.Messages)),
		IsLoading:    s.IsLoading,
		Suggestions:  w.chat.Catalog().Suggestions(s.Type),
	}
	for _, m := range s.Messages {
		v.Messages = append(v.Messages, w.messageViewOf(m))
	}
	return v
}

// attachmentURL points at the stored file when there is a file store,
// otherwise images are inlined.
func (w *Web) attachmentURL(att *domain.Attachment) string {
	if w.files != nil && att.ID != "" {
		return "/api/attachments/" + att.ID
	}
	if att.IsImage() && att.Data != "" {
		return attachment.DataURL(att)
	}
	return ""
}

// pageMessage is a message prepared for the chat template.
type pageMessage struct {
	ID        string
	Role      string
	HTML      htmltemplate.HTML
	IsError   bool
	FileName  string
	FileURL   htmltemplate.URL
	FileImage bool
	Time      string
}

func (w *Web) pageMessageOf(m domain.Message) pageMessage {
	pm := pageMessage{
		ID:      m.ID,
		Role:    string(m.Role),
		HTML:    htmltemplate.HTML(messageHTML(m)),
		IsError: m.IsError,
		Time:    m.Timestamp.Format("15:04"),
	}
	if att := m.Attachment; att != nil {
		pm.FileName = att.Name
		pm.FileImage = att.IsImage()
		pm.FileURL = htmltemplate.URL(w.attachmentURL(att))
	}
	return pm
}

// messageHTML renders model answers with the block renderer. User text is
// shown as typed apart from **bold** runs.
func messageHTML(m domain.Message) string {
	if m.Role == domain.RoleModel {
		return markdown.RenderHTML(markdown.Parse(m.Text))
	}
	return markdown.RenderInlineHTML(markdown.ParseInline(m.Text))
}

// --- Helpers ---

type sseWriter struct {
	rw      http.ResponseWriter
	flusher http.Flusher
	started bool
}

// event writes one SSE event. Headers are sent with the first event so
// errors before streaming can still use a proper status code.
func (s *sseWriter) event(name string, v any) {
	if !s.started {
		h := s.rw.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.rw.WriteHeader(http.StatusOK)
		s.started = true
	}
	data, _ := json.Marshal(v)
	fmt.Fprintf(s.rw, "event: %s\ndata: %s\n\n", name, data)
	s.flusher.Flush()
}

type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var re *requestError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &re):
		return re.status
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, attachment.ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, attachment.ErrTooLarge), errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, attachment.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	}
	return http.StatusInternalServerError
}

func (w *Web) writeError(rw http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		w.logger.Error("web request failed", "err", err)
		msg = "internal error"
	}
	writeJSON(rw, status, map[string]string{"error": msg})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func consultationCookie(r *http.Request) string {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func setCookie(rw http.ResponseWriter, id string) {
	http.SetCookie(rw, &http.Cookie{
		Name:     cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(rw http.ResponseWriter) {
	http.SetCookie(rw, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
