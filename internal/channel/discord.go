package channel

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"mediinterpret/internal/attachment"
	"mediinterpret/internal/chat"
	"mediinterpret/internal/domain"
	"mediinterpret/internal/markdown"
)

const discordMaxMsgLen = 2000

const discordIntents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

// Discord answers in direct messages and guild channels. In a guild, plain
// messages count only when they mention the bot, are room commands, or come
// from a user with an open consultation in that channel.
type Discord struct {
	token   string
	guildID string // empty registers global slash commands
	bot     *roomBot
	encoder *attachment.Encoder
	client  *http.Client
	logger  *slog.Logger

	session  *discordgo.Session
	inflight sync.WaitGroup
}

type DiscordConfig struct {
	Token        string
	GuildID      string
	AllowFrom    []string
	EditInterval time.Duration
	Chat         *chat.Manager
	Encoder      *attachment.Encoder
	Client       *http.Client
	Logger       *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	logger := cmp.Or(cfg.Logger, slog.Default())
	d := &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		encoder: cfg.Encoder,
		client:  cfg.Client,
		logger:  logger,
	}
	if d.encoder == nil {
		d.encoder = attachment.NewEncoder(0, nil)
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: downloadTimeout}
	}
	d.bot = newRoomBot("discord", discordMaxMsgLen, cfg.EditInterval, markdown.RenderDiscord, cfg.AllowFrom, cfg.Chat, logger)
	d.bot.poster = d
	return d
}

func (d *Discord) Name() string { return "discord" }

// Start opens the gateway connection and blocks until ctx is done. Answers
// still streaming at that point are allowed to finish before the session
// closes.
func (d *Discord) Start(ctx context.Context) error {
	s, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordIntents
	s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) { d.onMessage(ctx, s, m) })
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) { d.onInteraction(ctx, s, i) })
	d.session = s

	if err := s.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", s.State.User.Username, "guild", d.guildID)

	cmds, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, d.guildID, d.slashCommands())
	if err != nil {
		d.logger.Warn("discord slash commands not registered", "err", err)
	} else {
		d.logger.Debug("discord slash commands registered", "count", len(cmds))
	}

	<-ctx.Done()
	d.inflight.Wait()
	d.logger.Info("discord bot disconnected")
	return s.Close()
}

func (d *Discord) Stop() error { return nil }

func (d *Discord) onMessage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	self := s.State.User.ID
	if m.Author == nil || m.Author.Bot || m.Author.ID == self {
		return
	}
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return
	}
	text := stripDiscordMention(m.Content, self)
	if m.GuildID != "" && !d.addressed(m, text, self) {
		return
	}

	var att *domain.Attachment
	if len(m.Attachments) > 0 {
		var err error
		if att, err = d.fetch(ctx, m.Attachments[0]); err != nil {
			d.logger.Warn("discord attachment rejected", "channel_id", m.ChannelID, "err", err)
			d.bot.post(m.ChannelID, "Cannot use this file: "+err.Error())
			return
		}
	}

	d.inflight.Add(1)
	defer d.inflight.Done()
	if err := s.ChannelTyping(m.ChannelID); err != nil {
		d.logger.Debug("discord typing indicator failed", "err", err)
	}
	d.bot.handle(ctx, m.ChannelID, m.Author.ID, text, att)
}

// addressed reports whether a guild message is meant for the bot.
func (d *Discord) addressed(m *discordgo.MessageCreate, text, self string) bool {
	if _, ok := parseRoomCommand(text); ok {
		return true
	}
	if slices.ContainsFunc(m.Mentions, func(u *discordgo.User) bool { return u.ID == self }) {
		return true
	}
	return d.bot.session(m.ChannelID, m.Author.ID) != ""
}

// onInteraction turns a slash command into the room command of the same
// name. The interaction is acknowledged by echoing the command; the answer
// follows as ordinary channel messages so it can be edited while streaming.
func (d *Discord) onInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	user := i.User
	if i.Member != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}

	text := interactionToRoomCommand(i.ApplicationCommandData())
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: "> " + text},
	})
	if err != nil {
		d.logger.Warn("discord interaction ack failed", "command", text, "err", err)
	}

	d.inflight.Add(1)
	defer d.inflight.Done()
	d.bot.handle(ctx, i.ChannelID, user.ID, text, nil)
}

// interactionToRoomCommand maps /consult type:imaging to "!consult imaging".
func interactionToRoomCommand(data discordgo.ApplicationCommandInteractionData) string {
	parts := []string{roomCommandPrefix + data.Name}
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			parts = append(parts, opt.StringValue())
		}
	}
	return strings.Join(parts, " ")
}

func (d *Discord) Post(channelID, text string) (string, error) {
	msg, err := d.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (d *Discord) Edit(channelID, messageID, text string) error {
	_, err := d.session.ChannelMessageEdit(channelID, messageID, text)
	return err
}

func (d *Discord) fetch(ctx context.Context, a *discordgo.MessageAttachment) (*domain.Attachment, error) {
	if int64(a.Size) > d.encoder.MaxBytes() {
		return nil, attachment.ErrTooLarge
	}
	return downloadAttachment(ctx, d.client, d.encoder, a.URL, a.Filename, a.ContentType)
}

// slashCommands describes the application commands. The consult command
// offers the catalog's types as choices.
func (d *Discord) slashCommands() []*discordgo.ApplicationCommand {
	types := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "type",
		Description: "Consultation type",
		Required:    true,
	}
	for _, t := range d.bot.chat.Catalog().List() {
		types.Choices = append(types.Choices, &discordgo.ApplicationCommandOptionChoice{Name: t.Title, Value: string(t.Type)})
	}
	question := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "question",
		Description: "Your question",
		Required:    true,
	}

	cmd := func(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommand {
		return &discordgo.ApplicationCommand{Name: name, Description: desc, Options: opts}
	}
	return []*discordgo.ApplicationCommand{
		cmd("consult", "Start a medical consultation", types),
		cmd("ask", "Ask a question in the current consultation", question),
		cmd("back", "Leave the current consultation"),
		cmd("types", "List consultation types"),
		cmd("help", "Show available commands"),
	}
}

// stripDiscordMention removes <@id> and <@!id> mentions of the bot.
func stripDiscordMention(content, botID string) string {
	r := strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "")
	return strings.TrimSpace(r.Replace(content))
}

// downloadAttachment fetches url and encodes it for the model.
func downloadAttachment(ctx context.Context, client *http.Client, enc *attachment.Encoder, url, name, declared string) (*domain.Attachment, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return enc.FromReader(name, resp.Body, declared)
}
