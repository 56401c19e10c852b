package channel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

const (
	discordMaxMsgLen   = 2000
	discordMaxRows     = 5
	discordMaxPerRow   = 5
	discordLabelMaxLen = 80
)

// Discord implements domain.Channel for Discord. Menus become message
// component buttons; a press arrives as an interaction.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	bus     domain.MessageBus
	logger  *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string
	Logger  *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// discordCaller namespaces Discord user IDs so they never collide with
// identities from other transports.
func discordCaller(userID string) domain.CallerID {
	return domain.CallerID("discord:" + userID)
}

// Start connects to Discord using a bot token and blocks until ctx is done.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	bus.OnOutbound(d.Name(), d.deliver)

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
			return
		}
		if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
			return
		}
		in, ok := textIntent(d.Name(), m.ChannelID, discordCaller(m.Author.ID), m.Content)
		if !ok {
			return
		}
		d.logger.Info("discord intent received", "caller", in.Caller, "channel_id", m.ChannelID, "kind", in.Kind.String())
		bus.Publish(in)
	})

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		in, resp, ok := interactionIntent(i)
		if !ok {
			return
		}
		if err := s.InteractionRespond(i.Interaction, resp); err != nil {
			d.logger.Warn("discord interaction ack failed", "err", err)
		}
		d.logger.Info("discord intent received", "caller", in.Caller, "channel_id", in.ChatID, "kind", in.Kind.String())
		bus.Publish(in)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	d.registerSlashCommands()

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

// interactionIntent maps slash commands and button presses to intents, with
// the acknowledgement Discord expects for each.
func interactionIntent(i *discordgo.InteractionCreate) (domain.Intent, *discordgo.InteractionResponse, bool) {
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return domain.Intent{}, nil, false
	}
	caller := discordCaller(user.ID)

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		name := i.ApplicationCommandData().Name
		in := domain.NewTextIntent("discord", i.ChannelID, caller, domain.IntentCommand, name)
		return in, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: "/" + name, Flags: discordgo.MessageFlagsEphemeral},
		}, true

	case discordgo.InteractionMessageComponent:
		messageID := ""
		if i.Message != nil {
			messageID = i.Message.ID
		}
		in := buttonIntent("discord", i.ChannelID, caller, messageID, i.MessageComponentData().CustomID)
		return in, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}, true
	}
	return domain.Intent{}, nil, false
}

func (d *Discord) deliver(msg domain.OutboundMessage) {
	if p := msg.Photo; p != nil {
		_, err := d.session.ChannelMessageSendComplex(msg.ChatID, &discordgo.MessageSend{
			Content: p.Caption,
			Files:   []*discordgo.File{{Name: p.Name, ContentType: "image/png", Reader: bytes.NewReader(p.Data)}},
		})
		if err != nil {
			d.logger.Error("discord photo send failed", "channel", msg.ChatID, "err", err)
		}
	}

	r := msg.Response
	if r == nil {
		return
	}
	components := discordComponents(r)

	if msg.EditID != "" && len(r.Text) <= discordMaxMsgLen {
		text := r.Text
		_, err := d.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:         msg.EditID,
			Channel:    msg.ChatID,
			Content:    &text,
			Components: &components,
		})
		if err == nil {
			return
		}
		d.logger.Warn("discord edit failed, sending new message", "channel", msg.ChatID, "err", err)
	}

	chunks := splitMessage(r.Text, discordMaxMsgLen)
	for i, chunk := range chunks {
		send := &discordgo.MessageSend{Content: chunk}
		if i == len(chunks)-1 {
			send.Components = components
		}
		if _, err := d.session.ChannelMessageSendComplex(msg.ChatID, send); err != nil {
			d.logger.Error("discord send failed", "channel", msg.ChatID, "err", err)
		}
	}
}

// discordComponents lays the menu out as button rows. Discord allows five
// rows of five, so taller menus are packed five to a row.
func discordComponents(r *domain.Response) []discordgo.MessageComponent {
	if r.Menu == nil {
		return []discordgo.MessageComponent{}
	}

	rows := r.Menu.Rows
	if len(rows) > discordMaxRows {
		var flat []domain.Button
		for _, row := range rows {
			flat = append(flat, row...)
		}
		rows = nil
		for len(flat) > 0 {
			n := min(discordMaxPerRow, len(flat))
			rows = append(rows, flat[:n])
			flat = flat[n:]
		}
	}

	out := []discordgo.MessageComponent{}
	for _, row := range rows {
		if len(out) == discordMaxRows {
			break
		}
		var buttons []discordgo.MessageComponent
		for _, b := range row {
			if len(buttons) == discordMaxPerRow {
				break
			}
			data := buttonData(r, b)
			buttons = append(buttons, discordgo.Button{
				Label:    truncateRunes(b.Label, discordLabelMaxLen),
				Style:    discordButtonStyle(data),
				CustomID: data,
			})
		}
		out = append(out, discordgo.ActionsRow{Components: buttons})
	}
	return out
}

func discordButtonStyle(data string) discordgo.ButtonStyle {
	switch {
	case strings.HasPrefix(data, "confirm_"), strings.HasPrefix(data, "kill_process_"):
		return discordgo.DangerButton
	case strings.HasPrefix(data, menuPrefix):
		return discordgo.PrimaryButton
	}
	return discordgo.SecondaryButton
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (d *Discord) registerSlashCommands() {
	commands := []*discordgo.ApplicationCommand{
		{Name: "start", Description: "Show the main menu"},
		{Name: "help", Description: "Show available functions"},
	}

	guildID := d.guildID // empty = global commands
	for _, cmd := range commands {
		_, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, guildID, cmd)
		if err != nil {
			d.logger.Warn("failed to register slash command", "command", cmd.Name, "err", err)
		}
	}
}
