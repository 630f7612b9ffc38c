package channel

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mediinterpret/internal/attachment"
	"mediinterpret/internal/chat"
	"mediinterpret/internal/consult"
	"mediinterpret/internal/domain"
	"mediinterpret/internal/markdown"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxVoiceSecs   = 300
	telegramMaxSendAttempts = 4
	telegramPollSecs       = 30
	telegramCallbackPrefix = "cat:"
	defaultEditInterval    = 1200 * time.Millisecond
	downloadTimeout        = 60 * time.Second
)

// Telegram implements domain.Channel for a Telegram bot. Each chat holds
// at most one open consultation; answers stream into a single message that
// is edited at most once per edit interval.
type Telegram struct {
	token        string
	allowFrom    []int64 // Allowed user IDs (empty = allow all)
	editInterval time.Duration

	bot     *tgbotapi.BotAPI
	chat    *chat.Manager
	encoder *attachment.Encoder
	voice   Transcriber
	client  *http.Client
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[int64]string // telegram chat -> consultation id
	wg       sync.WaitGroup
}

type TelegramConfig struct {
	Token        string
	AllowFrom    []string // User IDs as strings
	EditInterval time.Duration
	Chat         *chat.Manager
	Encoder      *attachment.Encoder
	Transcriber  Transcriber  // optional, enables voice questions
	Client       *http.Client // used to download photos and documents
	Logger       *slog.Logger
}

// Transcriber converts a recorded question to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	logger := cmp.Or(cfg.Logger, slog.Default())
	t := &Telegram{
		token:        cfg.Token,
		allowFrom:    parseUserIDs(cfg.AllowFrom, logger),
		editInterval: cfg.EditInterval,
		chat:         cfg.Chat,
		encoder:      cfg.Encoder,
		voice:        cfg.Transcriber,
		client:       cfg.Client,
		logger:       logger,
		sessions:     make(map[int64]string),
	}
	if t.editInterval <= 0 {
		t.editInterval = defaultEditInterval
	}
	if t.encoder == nil {
		t.encoder = attachment.NewEncoder(0, nil)
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: downloadTimeout}
	}
	return t
}

// parseUserIDs keeps the numeric entries of an allow list.
func parseUserIDs(list []string, logger *slog.Logger) []int64 {
	var ids []int64
	for _, s := range list {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			logger.Warn("ignoring non-numeric telegram user id", "value", s)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "allow_list", len(t.allowFrom))

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = telegramPollSecs
	updates := bot.GetUpdatesChan(cfg)
	defer t.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			t.logger.Info("telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				t.handleUpdate(ctx, update)
			}()
		}
	}
}

// Stop is a no-op: StopReceivingUpdates runs when Start's context is
// cancelled and panics if called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(ctx, update.CallbackQuery)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("telegram user not in allow list", "user_id", msg.From.ID, "username", msg.From.UserName)
		t.sendText(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if msg.IsCommand() {
		t.handleCommand(chatID, msg)
		return
	}

	id := t.session(chatID)
	if id == "" {
		t.sendCategories(chatID, "Please choose a consultation type first.")
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}

	att, err := t.attachmentOf(ctx, msg)
	if err != nil {
		t.logger.Warn("telegram attachment rejected", "chat_id", chatID, "err", err)
		t.sendText(chatID, "Cannot use this file: "+err.Error())
		return
	}
	if text == "" && att == nil && msg.Voice != nil {
		text, err = t.transcribeVoice(ctx, msg.Voice)
		if err != nil {
			t.logger.Warn("telegram voice rejected", "chat_id", chatID, "err", err)
			t.sendText(chatID, "Sorry, I could not understand the voice message: "+err.Error())
			return
		}
		t.sendText(chatID, "🎙 "+text)
	}
	if text == "" && att == nil {
		return
	}

	t.logger.Debug("telegram question", "chat_id", chatID, "chars", len(text), "attachment", att != nil)
	t.answer(ctx, chatID, id, text, att)
}

func (t *Telegram) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	_, _ = t.bot.Request(tgbotapi.NewCallback(cq.ID, ""))
	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	if !t.isAllowed(cq.From.ID) {
		return
	}

	typ, ok := parseCategoryCallback(cq.Data)
	if !ok {
		return
	}

	// Drop the keyboard so the choice cannot be made twice.
	_, _ = t.bot.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	}))

	t.closeSession(chatID)
	s, err := t.chat.Start(ctx, typ, "telegram")
	if err != nil {
		t.logger.Error("telegram start consultation", "chat_id", chatID, "err", err)
		t.sendText(chatID, chat.ErrorReply)
		return
	}
	t.mu.Lock()
	t.sessions[chatID] = s.ID
	t.mu.Unlock()

	cat := t.chat.Catalog().Get(s.Type)
	welcome := markdown.Parse(s.Messages[0].Text)
	t.sendBlocks(ctx, chatID, 0, welcome)
	t.sendText(chatID, "You can ask, for example:\n- "+strings.Join(cat.Suggestions, "\n- ")+"\n\nSend a photo or PDF of your report, type your question or record a voice message. /back returns to the categories.")
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendCategories(chatID, "Hello! I can help you understand medical reports, lab results, treatment decisions and medications.\n\nChoose a consultation type:")
	case "back", "new":
		t.closeSession(chatID)
		t.sendCategories(chatID, "Choose a consultation type:")
	case "help":
		t.sendText(chatID, "Send a photo or PDF of your report, type your question or record a voice message.\n\nCommands:\n/start - choose a consultation type\n/back - leave the current consultation\n/help - show this message\n\nI am an AI, not a doctor. Always consult your healthcare provider.")
	default:
		t.sendText(chatID, "Unknown command. Type /help for available commands.")
	}
}

// answer streams the reply into one message, editing it as blocks arrive.
func (t *Telegram) answer(ctx context.Context, chatID int64, id, text string, att *domain.Attachment) {
	_, _ = t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	placeholder, err := t.bot.Send(tgbotapi.NewMessage(chatID, "…"))
	if err != nil {
		t.logger.Error("telegram placeholder failed", "chat_id", chatID, "err", err)
		return
	}
	msgID := placeholder.MessageID

	throttle := newEditThrottle(t.editInterval, time.Now)
	var lastSent string
	msg, err := t.chat.Send(ctx, id, text, att, func(u chat.Update) {
		rendered := markdown.RenderTelegram(u.Blocks)
		if rendered == lastSent || len(rendered) > telegramMaxMsgLen || !throttle.Allow() {
			return
		}
		if err := t.deliver(ctx, chatID, msgID, rendered, markdown.RenderText(u.Blocks)); err != nil {
			t.logger.Debug("telegram stream edit failed", "err", err)
			return
		}
		lastSent = rendered
	})

	switch {
	case errors.Is(err, chat.ErrBusy):
		t.deliver(ctx, chatID, msgID, "Please wait for the current answer to finish.", "")
		return
	case errors.Is(err, chat.ErrNotFound):
		t.closeSession(chatID)
		t.deliver(ctx, chatID, msgID, "This consultation has ended.", "")
		t.sendCategories(chatID, "Choose a consultation type:")
		return
	case err != nil:
		t.logger.Error("telegram send failed", "chat_id", chatID, "err", err)
		t.deliver(ctx, chatID, msgID, chat.ErrorReply, "")
		return
	}

	t.sendBlocks(ctx, chatID, msgID, markdown.Parse(msg.Text))
}

// sendBlocks delivers rendered blocks, splitting long answers into several
// messages. When editID is set the first part replaces that message.
func (t *Telegram) sendBlocks(ctx context.Context, chatID int64, editID int, blocks []markdown.Block) {
	for i, part := range chunkBlocks(blocks, telegramMaxMsgLen, markdown.RenderTelegram) {
		target := 0
		if i == 0 {
			target = editID
		}
		if err := t.deliver(ctx, chatID, target, markdown.RenderTelegram(part), markdown.RenderText(part)); err != nil {
			t.logger.Error("telegram delivery failed", "chat_id", chatID, "err", err)
			return
		}
	}
}

// deliver sends or edits one message as HTML. Telegram's flood limits are
// waited out, and markup it cannot parse is sent again as plain text.
func (t *Telegram) deliver(ctx context.Context, chatID int64, editID int, htmlText, plain string) error {
	text, mode := htmlText, tgbotapi.ModeHTML
	var err error
	for attempt := 1; attempt <= telegramMaxSendAttempts; attempt++ {
		var c tgbotapi.Chattable
		if editID != 0 {
			e := tgbotapi.NewEditMessageText(chatID, editID, text)
			e.ParseMode = mode
			c = e
		} else {
			m := tgbotapi.NewMessage(chatID, text)
			m.ParseMode = mode
			c = m
		}
		if _, err = t.bot.Send(c); err == nil {
			return nil
		}

		wait := time.Duration(attempt) * time.Second
		var apiErr *tgbotapi.Error
		switch {
		case !errors.As(err, &apiErr):
		case strings.Contains(apiErr.Message, "message is not modified"):
			return nil
		case strings.Contains(apiErr.Message, "can't parse entities") && mode != "":
			t.logger.Warn("telegram rejected the markup, sending plain text", "err", err)
			text, mode = cmp.Or(plain, htmlText), ""
			wait = 0
		case apiErr.Code == http.StatusTooManyRequests:
			wait = max(time.Duration(apiErr.RetryAfter)*time.Second, wait)
			t.logger.Warn("telegram flood limit", "retry_after", wait, "attempt", attempt)
		}
		if attempt == telegramMaxSendAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func (t *Telegram) sendText(chatID int64, text string) {
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		t.logger.Warn("telegram send failed", "chat_id", chatID, "err", err)
	}
}

func (t *Telegram) sendCategories(chatID int64, prompt string) {
	msg := tgbotapi.NewMessage(chatID, prompt)
	msg.ReplyMarkup = categoryKeyboard(t.chat.Catalog())
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("telegram send failed", "chat_id", chatID, "err", err)
	}
}

// attachmentOf downloads the largest photo size or the document attached
// to msg, if any.
func (t *Telegram) attachmentOf(ctx context.Context, msg *tgbotapi.Message) (*domain.Attachment, error) {
	var fileID, name, declared string
	switch {
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1]
		fileID, name, declared = p.FileID, "photo.jpg", "image/jpeg"
	case msg.Document != nil:
		if int64(msg.Document.FileSize) > t.encoder.MaxBytes() {
			return nil, attachment.ErrTooLarge
		}
		fileID, name, declared = msg.Document.FileID, msg.Document.FileName, msg.Document.MimeType
	default:
		return nil, nil
	}

	body, err := t.download(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return t.encoder.FromReader(name, body, declared)
}

var errVoiceDisabled = errors.New("voice messages are not enabled, please type your question")

func (t *Telegram) transcribeVoice(ctx context.Context, v *tgbotapi.Voice) (string, error) {
	if t.voice == nil {
		return "", errVoiceDisabled
	}
	if v.Duration > telegramMaxVoiceSecs {
		return "", fmt.Errorf("voice message longer than %d minutes", telegramMaxVoiceSecs/60)
	}
	body, err := t.download(ctx, v.FileID)
	if err != nil {
		return "", err
	}
	defer body.Close()
	return t.voice.Transcribe(ctx, body, "voice.ogg")
}

// download fetches a Telegram file. The returned body must be closed.
func (t *Telegram) download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("download file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (t *Telegram) session(chatID int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[chatID]
}

func (t *Telegram) closeSession(chatID int64) {
	t.mu.Lock()
	id, ok := t.sessions[chatID]
	delete(t.sessions, chatID)
	t.mu.Unlock()
	if ok {
		t.chat.Back(id)
	}
}

// isAllowed is true for everyone when the allow list is empty.
func (t *Telegram) isAllowed(userID int64) bool {
	return len(t.allowFrom) == 0 || slices.Contains(t.allowFrom, userID)
}

// categoryKeyboard lays the categories out two per row.
func categoryKeyboard(c *consult.Catalog) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, cat := range c.List() {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(cat.Title, telegramCallbackPrefix+string(cat.Type)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func parseCategoryCallback(data string) (domain.ConsultationType, bool) {
	rest, ok := strings.CutPrefix(data, telegramCallbackPrefix)
	if !ok {
		return "", false
	}
	typ, err := consult.ParseType(rest)
	if err != nil {
		return "", false
	}
	return typ, true
}

// editThrottle allows one edit per interval.
type editThrottle struct {
	interval time.Duration
	now      func() time.Time
	last     time.Time
}

func newEditThrottle(interval time.Duration, now func() time.Time) *editThrottle {
	return &editThrottle{interval: interval, now: now}
}

func (e *editThrottle) Allow() bool {
	n := e.now()
	if !e.last.IsZero() && n.Sub(e.last) < e.interval {
		return false
	}
	e.last = n
	return true
}
