package channel

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"mediinterpret/internal/chat"
	"mediinterpret/internal/markdown"
)

const slackMaxMsgLen = 4000

// slackSlashCommands are registered in the Slack app manifest and map onto
// the room commands of the same name.
var slackSlashCommands = []string{"/consult", "/ask", "/back", "/types", "/help"}

// Slack connects through Socket Mode. Direct messages are always answered;
// in channels the bot answers mentions and follow-ups from users with an
// open consultation there. Files are ignored: downloading them needs extra
// OAuth scopes.
type Slack struct {
	botToken string
	appToken string
	bot      *roomBot
	client   *slack.Client
	logger   *slog.Logger
	botUID   string
	inflight sync.WaitGroup
}

type SlackConfig struct {
	BotToken     string // xoxb-
	AppToken     string // xapp-, Socket Mode
	AllowFrom    []string
	EditInterval time.Duration
	Chat         *chat.Manager
	Logger       *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	logger := cmp.Or(cfg.Logger, slog.Default())
	s := &Slack{botToken: cfg.BotToken, appToken: cfg.AppToken, logger: logger}
	s.bot = newRoomBot("slack", slackMaxMsgLen, cfg.EditInterval, markdown.RenderSlack, cfg.AllowFrom, cfg.Chat, logger)
	s.bot.poster = s
	return s
}

func (s *Slack) Name() string { return "slack" }

// Start runs the Socket Mode event loop until ctx is done, then waits for
// answers still streaming.
func (s *Slack) Start(ctx context.Context) error {
	s.client = slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	auth, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = auth.UserID
	s.logger.Info("slack bot connected", "team", auth.Team, "user", auth.User, "user_id", auth.UserID)

	h := socketmode.NewSocketmodeHandler(socketmode.New(s.client))
	h.HandleEvents(slackevents.AppMention, s.onMention(ctx))
	h.HandleEvents(slackevents.Message, s.onMessage(ctx))
	for _, name := range slackSlashCommands {
		h.HandleSlashCommand(name, s.onSlash(ctx))
	}
	// Socket Mode reconnects when an envelope goes unacknowledged.
	h.HandleDefault(func(evt *socketmode.Event, c *socketmode.Client) {
		if evt.Request != nil {
			c.Ack(*evt.Request)
		}
	})

	err = h.RunEventLoopContext(ctx)
	s.inflight.Wait()
	if ctx.Err() != nil {
		s.logger.Info("slack bot disconnected")
		return nil
	}
	return fmt.Errorf("slack socket mode: %w", err)
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) onMention(ctx context.Context) socketmode.SocketmodeHandlerFunc {
	return func(evt *socketmode.Event, c *socketmode.Client) {
		c.Ack(*evt.Request)
		api, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		ev, ok := api.InnerEvent.Data.(*slackevents.AppMentionEvent)
		if !ok || ev.User == "" || ev.User == s.botUID {
			return
		}
		s.dispatch(ctx, ev.Channel, ev.User, stripSlackMention(ev.Text, s.botUID))
	}
}

func (s *Slack) onMessage(ctx context.Context) socketmode.SocketmodeHandlerFunc {
	return func(evt *socketmode.Event, c *socketmode.Client) {
		c.Ack(*evt.Request)
		api, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if ev, ok := api.InnerEvent.Data.(*slackevents.MessageEvent); ok && s.wantsMessage(ev) {
			s.dispatch(ctx, ev.Channel, ev.User, ev.Text)
		}
	}
}

func (s *Slack) onSlash(ctx context.Context) socketmode.SocketmodeHandlerFunc {
	return func(evt *socketmode.Event, c *socketmode.Client) {
		c.Ack(*evt.Request)
		if cmd, ok := evt.Data.(slack.SlashCommand); ok {
			s.dispatch(ctx, cmd.ChannelID, cmd.UserID, slashToRoomCommand(cmd))
		}
	}
}

// wantsMessage filters plain message events. Mentions arrive again as
// app_mention events, so they are skipped here.
func (s *Slack) wantsMessage(ev *slackevents.MessageEvent) bool {
	switch {
	case ev.User == "" || ev.User == s.botUID || ev.BotID != "" || ev.SubType != "":
		return false
	case ev.ChannelType == "im":
		return true
	case strings.Contains(ev.Text, "<@"+s.botUID+">"):
		return false
	}
	return s.bot.session(ev.Channel, ev.User) != ""
}

// dispatch answers off the event loop so one slow answer does not hold up
// the others.
func (s *Slack) dispatch(ctx context.Context, channelID, user, text string) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.bot.handle(ctx, channelID, user, text, nil)
	}()
}

// Post sends a message; its timestamp identifies it for later edits.
func (s *Slack) Post(channelID, text string) (string, error) {
	_, ts, err := s.client.PostMessage(channelID, slack.MsgOptionText(text, false))
	return ts, err
}

func (s *Slack) Edit(channelID, ts, text string) error {
	_, _, _, err := s.client.UpdateMessage(channelID, ts, slack.MsgOptionText(text, false))
	return err
}

// slashToRoomCommand maps "/consult imaging" to "!consult imaging".
func slashToRoomCommand(cmd slack.SlashCommand) string {
	return strings.TrimSpace(roomCommandPrefix + strings.TrimPrefix(cmd.Command, "/") + " " + cmd.Text)
}

func stripSlackMention(text, botUID string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "<@"+botUID+">", ""))
}
