package channel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

// Slack's section text limit is 3000 characters.
const slackMaxMsgLen = 3000

// Slack implements domain.Channel for Slack using Socket Mode. Menus are
// Block Kit buttons; presses arrive as block_actions interactions.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid replying to self
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

func slackCaller(userID string) domain.CallerID {
	return domain.CallerID("slack:" + userID)
}

// Start connects to Slack via Socket Mode and begins listening for events.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	bus.OnOutbound(s.Name(), s.deliver)

	go func() {
		for {
			var evt socketmode.Event
			select {
			case <-ctx.Done():
				return
			case e, ok := <-socketClient.Events:
				if !ok {
					return
				}
				evt = e
			}

			if evt.Request != nil {
				// Acknowledge everything to prevent Socket Mode disconnection.
				socketClient.Ack(*evt.Request)
			}

			var in domain.Intent
			var ok bool
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				if ev, isEv := evt.Data.(slackevents.EventsAPIEvent); isEv {
					in, ok = s.eventIntent(ev)
				}
			case socketmode.EventTypeSlashCommand:
				if cmd, isCmd := evt.Data.(slack.SlashCommand); isCmd {
					in, ok = textIntent(s.Name(), cmd.ChannelID, slackCaller(cmd.UserID), slashText(cmd))
				}
			case socketmode.EventTypeInteractive:
				if cb, isCb := evt.Data.(slack.InteractionCallback); isCb {
					in, ok = interactionCallbackIntent(cb)
				}
			}
			if !ok {
				continue
			}
			s.logger.Info("slack intent received", "caller", in.Caller, "channel", in.ChatID, "kind", in.Kind.String())
			bus.Publish(in)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) eventIntent(event slackevents.EventsAPIEvent) (domain.Intent, bool) {
	if event.Type != slackevents.CallbackEvent {
		return domain.Intent{}, false
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Ignore the bot's own messages and message_changed subtypes.
		if ev.User == s.botUID || ev.User == "" || ev.SubType != "" {
			return domain.Intent{}, false
		}
		return textIntent(s.Name(), ev.Channel, slackCaller(ev.User), ev.Text)

	case *slackevents.AppMentionEvent:
		content := ev.Text
		if idx := strings.Index(content, ">"); idx >= 0 {
			content = strings.TrimSpace(content[idx+1:])
		}
		return textIntent(s.Name(), ev.Channel, slackCaller(ev.User), content)
	}
	return domain.Intent{}, false
}

// slashText routes "/remotebot start" as /start; a bare slash command
// opens the main menu.
func slashText(cmd slack.SlashCommand) string {
	arg := strings.TrimPrefix(strings.TrimSpace(cmd.Text), "/")
	if arg == "" {
		return "/start"
	}
	return "/" + arg
}

func interactionCallbackIntent(cb slack.InteractionCallback) (domain.Intent, bool) {
	if cb.Type != slack.InteractionTypeBlockActions || len(cb.ActionCallback.BlockActions) == 0 {
		return domain.Intent{}, false
	}
	action := cb.ActionCallback.BlockActions[0]
	return buttonIntent("slack", cb.Channel.ID, slackCaller(cb.User.ID), cb.Message.Timestamp, action.Value), true
}

func (s *Slack) deliver(msg domain.OutboundMessage) {
	if p := msg.Photo; p != nil {
		_, err := s.client.UploadFileV2(slack.UploadFileV2Parameters{
			Channel:        msg.ChatID,
			Filename:       p.Name,
			Title:          p.Name,
			InitialComment: p.Caption,
			FileSize:       len(p.Data),
			Reader:         bytes.NewReader(p.Data),
		})
		if err != nil {
			s.logger.Error("slack upload failed", "channel", msg.ChatID, "err", err)
		}
	}

	r := msg.Response
	if r == nil {
		return
	}

	if msg.EditID != "" && len(r.Text) <= slackMaxMsgLen {
		_, _, _, err := s.client.UpdateMessage(msg.ChatID, msg.EditID,
			slack.MsgOptionText(r.Text, false),
			slack.MsgOptionBlocks(slackBlocks(r, r.Text)...),
		)
		if err == nil {
			return
		}
		s.logger.Warn("slack update failed, posting new message", "channel", msg.ChatID, "err", err)
	}

	chunks := splitMessage(r.Text, slackMaxMsgLen)
	for i, chunk := range chunks {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if i == len(chunks)-1 {
			opts = append(opts, slack.MsgOptionBlocks(slackBlocks(r, chunk)...))
		}
		if _, _, err := s.client.PostMessage(msg.ChatID, opts...); err != nil {
			s.logger.Error("slack send failed", "channel", msg.ChatID, "err", err)
		}
	}
}

// slackBlocks renders text as a section followed by one actions block per
// menu row. Button values carry the button data; action IDs only need to be
// unique within the message.
func slackBlocks(r *domain.Response, text string) []slack.Block {
	textType := slack.PlainTextType
	if r.Markdown {
		textType = slack.MarkdownType
		text = slackMarkdown(text)
	}
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(textType, text, false, false), nil, nil),
	}
	if r.Menu == nil {
		return blocks
	}
	for i, row := range r.Menu.Rows {
		var elems []slack.BlockElement
		for j, b := range row {
			label := slack.NewTextBlockObject(slack.PlainTextType, b.Label, true, false)
			elems = append(elems, slack.NewButtonBlockElement(fmt.Sprintf("btn_%d_%d", i, j), buttonData(r, b), label))
		}
		blocks = append(blocks, slack.NewActionBlock(fmt.Sprintf("row_%d", i), elems...))
	}
	return blocks
}

var slackUnescaper = strings.NewReplacer(`\_`, "_", `\*`, "*", "\\`", "`", `\[`, "[")

// slackMarkdown converts Telegram-style escapes; Slack mrkdwn has no escape character.
func slackMarkdown(s string) string { return slackUnescaper.Replace(s) }
