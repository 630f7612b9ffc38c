package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"mediinterpret/internal/chat"
	"mediinterpret/internal/consult"
	"mediinterpret/internal/domain"
	"mediinterpret/internal/markdown"
)

const roomCommandPrefix = "!"

// roomPoster posts and edits messages in a chat room. Discord channels and
// Slack conversations implement it.
type roomPoster interface {
	Post(room, text string) (ref string, err error)
	Edit(room, ref, text string) error
}

// roomBot runs consultations on chat platforms driven by text commands.
// Every user in a room holds at most one open consultation. Answers stream
// into a single posted message that is edited at most once per interval.
type roomBot struct {
	platform     string
	maxLen       int
	editInterval time.Duration
	render       func([]markdown.Block) string
	allowFrom    map[string]bool
	chat         *chat.Manager
	poster       roomPoster
	logger       *slog.Logger

	mu       sync.Mutex
	sessions map[string]string // room/user -> consultation id
}

type roomCommand struct {
	name string
	arg  string
}

// parseRoomCommand recognises "!name arg" messages.
func parseRoomCommand(text string) (roomCommand, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(text), roomCommandPrefix)
	if !ok || rest == "" {
		return roomCommand{}, false
	}
	name, arg, _ := strings.Cut(rest, " ")
	return roomCommand{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

func newRoomBot(platform string, maxLen int, editInterval time.Duration, render func([]markdown.Block) string,
	allowFrom []string, mgr *chat.Manager, logger *slog.Logger) *roomBot {
	if editInterval <= 0 {
		editInterval = defaultEditInterval
	}
	allowed := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = true
		}
	}
	return &roomBot{
		platform:     platform,
		maxLen:       maxLen,
		editInterval: editInterval,
		render:       render,
		allowFrom:    allowed,
		chat:         mgr,
		logger:       logger,
		sessions:     make(map[string]string),
	}
}

func (b *roomBot) isAllowed(user string) bool {
	return len(b.allowFrom) == 0 || b.allowFrom[user]
}

// handle processes one inbound message.
func (b *roomBot) handle(ctx context.Context, room, user, text string, att *domain.Attachment) {
	if !b.isAllowed(user) {
		b.logger.Warn("unauthorized "+b.platform+" user", "user", user, "room", room)
		b.post(room, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if cmd, ok := parseRoomCommand(text); ok {
		b.command(ctx, room, user, cmd)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" && att == nil {
		return
	}
	id := b.session(room, user)
	if id == "" {
		b.post(room, b.categoryList("Please choose a consultation type first."))
		return
	}

	b.logger.Info(b.platform+" message received",
		"user", user,
		"room", room,
		"text_len", len(text),
		"attachment", att != nil,
	)
	b.answer(ctx, room, user, id, text, att)
}

func (b *roomBot) command(ctx context.Context, room, user string, cmd roomCommand) {
	switch cmd.name {
	case "consult", "start":
		if cmd.arg == "" {
			b.post(room, b.categoryList("Choose a consultation type:"))
			return
		}
		typ, err := b.resolveCategory(cmd.arg)
		if err != nil {
			b.post(room, err.Error()+"\n\n"+b.categoryList("Choose a consultation type:"))
			return
		}
		b.start(ctx, room, user, typ)
	case "ask":
		if cmd.arg == "" {
			b.post(room, "Usage: "+roomCommandPrefix+"ask <question>")
			return
		}
		b.handle(ctx, room, user, cmd.arg, nil)
	case "back", "new":
		b.closeSession(room, user)
		b.post(room, b.categoryList("Choose a consultation type:"))
	case "types", "categories":
		b.post(room, b.categoryList("Consultation types:"))
	case "help":
		b.post(room, b.helpText())
	default:
		b.post(room, "Unknown command. Type "+roomCommandPrefix+"help for available commands.")
	}
}

// resolveCategory accepts a 1-based menu number or a category identifier.
func (b *roomBot) resolveCategory(arg string) (domain.ConsultationType, error) {
	types := b.chat.Catalog().Types()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(types) {
			return "", fmt.Errorf("choose a number between 1 and %d", len(types))
		}
		return types[n-1], nil
	}
	return consult.ParseType(arg)
}

func (b *roomBot) start(ctx context.Context, room, user string, typ domain.ConsultationType) {
	b.closeSession(room, user)
	s, err := b.chat.Start(ctx, typ, b.platform)
	if err != nil {
		b.logger.Error(b.platform+" start consultation", "room", room, "err", err)
		b.post(room, chat.ErrorReply)
		return
	}
	b.mu.Lock()
	b.sessions[roomKey(room, user)] = s.ID
	b.mu.Unlock()

	cat := b.chat.Catalog().Get(s.Type)
	b.postBlocks(room, "", markdown.Parse(s.Messages[0].Text))
	b.post(room, "You can ask, for example:\n• "+strings.Join(cat.Suggestions, "\n• ")+
		"\n\nAttach a photo or PDF of your report or type your question. "+roomCommandPrefix+"back returns to the categories.")
}

// answer streams the reply into one message, editing it as blocks arrive.
func (b *roomBot) answer(ctx context.Context, room, user, id, text string, att *domain.Attachment) {
	ref, err := b.poster.Post(room, "…")
	if err != nil {
		b.logger.Error(b.platform+" placeholder failed", "room", room, "err", err)
		return
	}

	throttle := newEditThrottle(b.editInterval, time.Now)
	var lastSent string
	msg, err := b.chat.Send(ctx, id, text, att, func(u chat.Update) {
		rendered := b.render(u.Blocks)
		if rendered == lastSent || len(rendered) > b.maxLen || !throttle.Allow() {
			return
		}
		if err := b.poster.Edit(room, ref, rendered); err != nil {
			b.logger.Debug(b.platform+" stream edit failed", "err", err)
			return
		}
		lastSent = rendered
	})

	switch {
	case errors.Is(err, chat.ErrBusy):
		b.edit(room, ref, "Please wait for the current answer to finish.")
		return
	case errors.Is(err, chat.ErrNotFound):
		b.closeSession(room, user)
		b.edit(room, ref, "This consultation has ended.")
		b.post(room, b.categoryList("Choose a consultation type:"))
		return
	case err != nil:
		b.logger.Error(b.platform+" send failed", "room", room, "err", err)
		b.edit(room, ref, chat.ErrorReply)
		return
	}

	b.postBlocks(room, ref, markdown.Parse(msg.Text))
}

// postBlocks delivers blocks split to the platform limit. When ref is set
// the first part replaces that message.
func (b *roomBot) postBlocks(room, ref string, blocks []markdown.Block) {
	for i, part := range chunkBlocks(blocks, b.maxLen, b.render) {
		text := b.render(part)
		if i == 0 && ref != "" {
			b.edit(room, ref, text)
			continue
		}
		b.post(room, text)
	}
}

func (b *roomBot) post(room, text string) {
	if _, err := b.poster.Post(room, text); err != nil {
		b.logger.Warn(b.platform+" send failed", "room", room, "err", err)
	}
}

func (b *roomBot) edit(room, ref, text string) {
	if err := b.poster.Edit(room, ref, text); err != nil {
		b.logger.Warn(b.platform+" edit failed", "room", room, "err", err)
	}
}

func (b *roomBot) categoryList(prompt string) string {
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n")
	for i, cat := range b.chat.Catalog().List() {
		fmt.Fprintf(&sb, "\n%d. %s: %s (%sconsult %s)", i+1, cat.Title, cat.Description, roomCommandPrefix, cat.Type)
	}
	return sb.String()
}

func (b *roomBot) helpText() string {
	p := roomCommandPrefix
	return "Commands:\n" +
		p + "consult <type|number> - start a consultation\n" +
		p + "ask <question> - ask in the current consultation\n" +
		p + "back - leave the current consultation\n" +
		p + "types - list consultation types\n" +
		p + "help - show this message\n\n" +
		"I am an AI, not a doctor. Always consult your healthcare provider."
}

func roomKey(room, user string) string { return room + "/" + user }

func (b *roomBot) session(room, user string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[roomKey(room, user)]
}

func (b *roomBot) closeSession(room, user string) {
	key := roomKey(room, user)
	b.mu.Lock()
	id, ok := b.sessions[key]
	delete(b.sessions, key)
	b.mu.Unlock()
	if ok {
		b.chat.Back(id)
	}
}
