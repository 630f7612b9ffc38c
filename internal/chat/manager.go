// Package chat runs consultation sessions: it keeps the message list of each
// open consultation, streams answers from the provider and persists the
// transcript.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediinterpret/internal/consult"
	"mediinterpret/internal/domain"
	"mediinterpret/internal/markdown"
	"mediinterpret/internal/metrics"
	"mediinterpret/internal/provider"
)

var (
	ErrEmptyMessage = errors.New("message has no text and no attachment")
	ErrBusy         = errors.New("an answer is still being generated")
	ErrNotFound     = domain.ErrNotFound
)

// ErrorReply is shown in place of an answer when the provider fails.
const ErrorReply = "I apologize, but I encountered an error. Please try again."

const defaultHistoryLimit = 200

// Update is delivered to the caller on every non-empty streamed chunk.
type Update struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	markdown.Update
}

// Session is a snapshot of one consultation.
type Session struct {
	domain.Consultation
	Messages  []domain.Message `json:"messages"`
	IsLoading bool             `json:"isLoading"`
}

type session struct {
	mu       sync.Mutex
	info     domain.Consultation
	messages []domain.Message
	loading  bool
}

func (s *session) snapshot() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Session{
		Consultation: s.info,
		Messages:     append([]domain.Message(nil), s.messages...),
		IsLoading:    s.loading,
	}
}

// Config wires a Manager. Store and Attachments are optional; without a
// store sessions live only in memory.
type Config struct {
	Provider      domain.Provider
	Catalog       *consult.Catalog
	Store         domain.ConsultationStore
	Attachments   domain.AttachmentStore
	Logger        *slog.Logger
	MaxConcurrent int // simultaneous provider streams, 0 means unlimited
	HistoryLimit  int // messages restored when resuming a consultation
}

// Manager owns all open consultation sessions. It is safe for concurrent use.
type Manager struct {
	provider     domain.Provider
	catalog      *consult.Catalog
	store        domain.ConsultationStore
	attachments  domain.AttachmentStore
	logger       *slog.Logger
	sem          chan struct{}
	historyLimit int

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, errors.New("chat: provider is required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = consult.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	m := &Manager{
		provider:     cfg.Provider,
		catalog:      cfg.Catalog,
		store:        cfg.Store,
		attachments:  cfg.Attachments,
		logger:       cfg.Logger,
		historyLimit: cfg.HistoryLimit,
		sessions:     make(map[string]*session),
	}
	if cfg.MaxConcurrent > 0 {
		m.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return m, nil
}

// Catalog returns the category catalog used for new sessions.
func (m *Manager) Catalog() *consult.Catalog { return m.catalog }

// ProviderName returns the name of the provider answering questions.
func (m *Manager) ProviderName() string { return m.provider.Name() }

// Healthy checks that the provider is reachable.
func (m *Manager) Healthy(ctx context.Context) error { return m.provider.Healthy(ctx) }

// Start opens a consultation of the given type. Unknown types fall back to
// the default category. The session starts with the category's welcome
// message from the model.
func (m *Manager) Start(ctx context.Context, typ domain.ConsultationType, channel string) (*Session, error) {
	cat := m.catalog.Get(typ)
	now := time.Now()
	s := &session{
		info: domain.Consultation{
			ID:        uuid.NewString(),
			Type:      cat.Type,
			Channel:   channel,
			Title:     cat.Title,
			Provider:  m.provider.Name(),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	welcome := domain.NewMessage(domain.RoleModel, cat.Welcome)
	s.messages = []domain.Message{welcome}

	if m.store != nil {
		if err := m.store.CreateConsultation(ctx, s.info); err != nil {
			return nil, fmt.Errorf("create consultation: %w", err)
		}
		if err := m.store.AddMessage(ctx, s.info.ID, welcome); err != nil {
			return nil, fmt.Errorf("save welcome message: %w", err)
		}
	}

	m.mu.Lock()
	m.sessions[s.info.ID] = s
	m.mu.Unlock()

	metrics.ConsultationStarted(string(s.info.Type), channel)
	metrics.ActiveSessions.Inc()
	m.logger.Info("consultation started",
		"id", s.info.ID,
		"type", s.info.Type,
		"channel", channel,
	)
	return s.snapshot(), nil
}

// Get returns a snapshot of the session, restoring it from the store when
// it is not open in memory.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// Messages returns the session's messages in order.
func (m *Manager) Messages(ctx context.Context, id string) ([]domain.Message, error) {
	snap, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return snap.Messages, nil
}

// Back closes the in-memory session, returning the user to category
// selection. The persisted transcript is kept and can be resumed.
func (m *Manager) Back(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		metrics.ActiveSessions.Dec()
		m.logger.Debug("consultation closed", "id", id)
	}
}

// Delete closes the session and removes its transcript and attachments.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.Back(id)
	if m.store == nil {
		return nil
	}
	if err := m.store.DeleteConsultation(ctx, id); err != nil {
		return err
	}
	if d, ok := m.attachments.(interface {
		DeleteConsultation(ctx context.Context, id string) error
	}); ok {
		if err := d.DeleteConsultation(ctx, id); err != nil {
			m.logger.Warn("failed to delete attachments", "id", id, "err", err)
		}
	}
	m.logger.Info("consultation deleted", "id", id)
	return nil
}

// List returns recent consultations from the store, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]domain.Consultation, error) {
	if m.store == nil {
		m.mu.RLock()
		defer m.mu.RUnlock()
		out := make([]domain.Consultation, 0, len(m.sessions))
		for _, s := range m.sessions {
			s.mu.Lock()
			out = append(out, s.info)
			s.mu.Unlock()
		}
		return out, nil
	}
	return m.store.ListConsultations(ctx, limit)
}

// Prune removes consultations idle for longer than retention.
func (m *Manager) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if m.store == nil || retention <= 0 {
		return 0, nil
	}
	before := time.Now().Add(-retention)
	n, err := m.store.Prune(ctx, before)
	if err != nil {
		return 0, err
	}
	if p, ok := m.attachments.(interface {
		Prune(ctx context.Context, before time.Time) (int, error)
	}); ok {
		if _, err := p.Prune(ctx, before); err != nil {
			m.logger.Warn("failed to prune attachments", "err", err)
		}
	}
	return n, nil
}

func (m *Manager) load(ctx context.Context, id string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if m.store == nil {
		return nil, ErrNotFound
	}

	info, err := m.store.GetConsultation(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := m.store.GetMessages(ctx, id, m.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	m.restoreAttachments(ctx, msgs)

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s = &session{info: *info, messages: msgs}
	m.sessions[id] = s
	metrics.ActiveSessions.Inc()
	m.logger.Info("consultation resumed", "id", id, "messages", len(msgs))
	return s, nil
}

func (m *Manager) restoreAttachments(ctx context.Context, msgs []domain.Message) {
	if m.attachments == nil {
		return
	}
	for i := range msgs {
		att := msgs[i].Attachment
		if att == nil || att.ID == "" {
			continue
		}
		full, err := m.attachments.Load(ctx, att.ID)
		if err != nil {
			m.logger.Warn("attachment not restored", "id", att.ID, "err", err)
			continue
		}
		msgs[i].Attachment = full
	}
}

// Send adds the user's message and streams the answer. onUpdate, if not
// nil, is called with the accumulated answer after every non-empty chunk.
// Provider failures are not returned: they end in an error message from the
// model, which is also the returned message.
func (m *Manager) Send(ctx context.Context, id, text string, att *domain.Attachment, onUpdate func(Update)) (domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		text = ""
	}
	if text == "" && att == nil {
		return domain.Message{}, ErrEmptyMessage
	}

	s, err := m.load(ctx, id)
	if err != nil {
		return domain.Message{}, err
	}

	user := domain.NewMessage(domain.RoleUser, text)
	if att != nil {
		cp := *att
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		user.Attachment = &cp
	}
	placeholder := domain.NewMessage(domain.RoleModel, "")

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return domain.Message{}, ErrBusy
	}
	s.loading = true
	history := buildHistory(s.messages)
	s.messages = append(s.messages, user, placeholder)
	typ := s.info.Type
	firstQuestion := !hasUserMessage(s.messages[:len(s.messages)-2])
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	m.persistUser(ctx, s, user, firstQuestion)
	m.persist(ctx, s.info.ID, placeholder)

	metrics.MessageSent(s.info.Channel, att != nil)

	req := domain.ChatRequest{
		System:   m.catalog.SystemInstruction(typ),
		Contents: append(history, user.Content()),
	}

	answer, streamErr := m.stream(ctx, s, placeholder.ID, req, onUpdate)
	if streamErr != nil {
		return m.fail(ctx, s, placeholder.ID, streamErr), nil
	}

	final := m.finish(ctx, s, placeholder.ID, answer)
	return final, nil
}

func (m *Manager) stream(ctx context.Context, s *session, msgID string, req domain.ChatRequest, onUpdate func(Update)) (string, error) {
	if m.sem != nil {
		select {
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	metrics.ProviderRequests.Inc()
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	start := time.Now()
	first := true
	var acc markdown.Accumulator
	answer, err := provider.Stream(ctx, m.provider, req, func(chunk string) {
		if first {
			metrics.FirstChunkLatency.Observe(time.Since(start).Seconds())
			first = false
		}
		upd := acc.Write(chunk)
		s.mu.Lock()
		setText(s.messages, msgID, upd.Text)
		s.mu.Unlock()
		if onUpdate != nil {
			onUpdate(Update{SessionID: s.info.ID, MessageID: msgID, Update: upd})
		}
	})
	metrics.StreamLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return acc.Text(), err
	}
	return answer, nil
}

// finish stores the final answer text on the placeholder.
func (m *Manager) finish(ctx context.Context, s *session, msgID, answer string) domain.Message {
	s.mu.Lock()
	setText(s.messages, msgID, answer)
	final := *findMessage(s.messages, msgID)
	s.info.UpdatedAt = time.Now()
	s.mu.Unlock()

	if m.store != nil {
		if err := m.store.UpdateMessage(ctx, final); err != nil {
			m.logger.Warn("failed to save answer", "id", s.info.ID, "err", err)
		}
	}
	return final
}

// fail removes an empty placeholder and appends the error message. Partial
// answers stay visible above the error.
func (m *Manager) fail(ctx context.Context, s *session, placeholderID string, cause error) domain.Message {
	metrics.ProviderFailed(m.provider.Name())
	m.logger.Error("provider failed", "id", s.info.ID, "provider", m.provider.Name(), "err", cause)

	errMsg := domain.NewMessage(domain.RoleModel, ErrorReply)
	errMsg.IsError = true

	s.mu.Lock()
	var partial *domain.Message
	if p := findMessage(s.messages, placeholderID); p != nil && p.Text == "" {
		s.messages = removeMessage(s.messages, placeholderID)
	} else if p != nil {
		cp := *p
		partial = &cp
	}
	s.messages = append(s.messages, errMsg)
	s.mu.Unlock()

	if m.store != nil {
		// ctx may be the cancelled request context; persistence must still run.
		bg := context.WithoutCancel(ctx)
		if partial == nil {
			if err := m.store.DeleteMessage(bg, placeholderID); err != nil {
				m.logger.Warn("failed to remove empty answer", "err", err)
			}
		} else if err := m.store.UpdateMessage(bg, *partial); err != nil {
			m.logger.Warn("failed to save partial answer", "err", err)
		}
		if err := m.store.AddMessage(bg, s.info.ID, errMsg); err != nil {
			m.logger.Warn("failed to save error message", "err", err)
		}
	}
	return errMsg
}

func (m *Manager) persistUser(ctx context.Context, s *session, user domain.Message, firstQuestion bool) {
	if m.store == nil {
		return
	}
	if user.Attachment != nil && m.attachments != nil {
		if err := m.attachments.Save(ctx, s.info.ID, user.Attachment); err != nil {
			m.logger.Warn("failed to store attachment", "err", err)
		}
	}
	m.persist(ctx, s.info.ID, user)

	if firstQuestion {
		title := generateTitle(user.Text)
		if title == "" && user.Attachment != nil {
			title = user.Attachment.Name
		}
		if title != "" {
			s.mu.Lock()
			s.info.Title = title
			info := s.info
			s.mu.Unlock()
			if err := m.store.UpdateConsultation(ctx, info); err != nil {
				m.logger.Warn("failed to update consultation title", "id", info.ID, "err", err)
			}
		}
	}
}

func (m *Manager) persist(ctx context.Context, id string, msg domain.Message) {
	if m.store == nil {
		return
	}
	if err := m.store.AddMessage(ctx, id, msg); err != nil {
		m.logger.Warn("failed to save message", "id", id, "role", msg.Role, "err", err)
	}
}

// buildHistory converts earlier messages into provider turns. The opening
// welcome message, failed answers and the questions that produced them are
// display-only and never sent back.
func buildHistory(msgs []domain.Message) []domain.Content {
	var out []domain.Content
	for i, msg := range msgs {
		if i == 0 && msg.Role == domain.RoleModel {
			continue
		}
		if msg.IsError {
			continue
		}
		if msg.Role == domain.RoleUser && answeredByError(msgs, i) {
			continue
		}
		c := msg.Content()
		if len(c.Parts) == 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

// answeredByError reports whether the user message at i got no usable
// answer before the next question.
func answeredByError(msgs []domain.Message, i int) bool {
	for _, next := range msgs[i+1:] {
		if next.Role == domain.RoleUser {
			break
		}
		if !next.IsError && next.Text != "" {
			return false
		}
	}
	return true
}

func hasUserMessage(msgs []domain.Message) bool {
	for _, m := range msgs {
		if m.Role == domain.RoleUser {
			return true
		}
	}
	return false
}

func findMessage(msgs []domain.Message, id string) *domain.Message {
	for i := range msgs {
		if msgs[i].ID == id {
			return &msgs[i]
		}
	}
	return nil
}

func setText(msgs []domain.Message, id, text string) {
	if p := findMessage(msgs, id); p != nil {
		p.Text = text
	}
}

func removeMessage(msgs []domain.Message, id string) []domain.Message {
	out := msgs[:0]
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
