package channel

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/bus"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

func mainMenuResponse() *domain.Response {
	return &domain.Response{
		Text:     "menu",
		MainMenu: true,
		Menu: &domain.Menu{Rows: [][]domain.Button{
			{{Label: "💻 Power", Code: "💻 Power"}, {Label: "🔒 Screen lock", Code: "🔒 Screen lock"}},
		}},
	}
}

func TestButtonDataRoundTrip(t *testing.T) {
	r := mainMenuResponse()
	data := buttonData(r, r.Menu.Rows[0][0])
	in := buttonIntent("x", "chat", "c", "m", data)
	if in.Kind != domain.IntentMenuSelect || in.Text != "💻 Power" {
		t.Fatalf("main menu button should select the label, got %+v", in)
	}

	inline := &domain.Response{Menu: &domain.Menu{Rows: [][]domain.Button{{{Label: "Mute", Code: "sound_mute"}}}}}
	in = buttonIntent("x", "chat", "c", "m", buttonData(inline, inline.Menu.Rows[0][0]))
	if in.Kind != domain.IntentAction || in.Action.Kind != domain.ActionVolume || in.MessageID != "m" {
		t.Fatalf("inline button should carry the action, got %+v", in)
	}
}

func TestDiscordComponentsPacksTallMenus(t *testing.T) {
	menu := &domain.Menu{}
	for i := 0; i < 6; i++ {
		menu.Rows = append(menu.Rows, []domain.Button{{Label: "Kill", Code: domain.KillProcessCode(100 + i)}})
	}
	comps := discordComponents(&domain.Response{Menu: menu})

	if len(comps) != 2 {
		t.Fatalf("expected 6 buttons packed into 2 rows, got %d rows", len(comps))
	}
	first := comps[0].(discordgo.ActionsRow)
	if len(first.Components) != 5 {
		t.Fatalf("expected 5 buttons in first row, got %d", len(first.Components))
	}
	btn := first.Components[0].(discordgo.Button)
	if btn.CustomID != "kill_process_100" || btn.Style != discordgo.DangerButton {
		t.Fatalf("unexpected button %+v", btn)
	}
}

func TestDiscordInteractionIntent(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "chan",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "77"}},
		Message:   &discordgo.Message{ID: "msg1"},
		Data:      discordgo.MessageComponentInteractionData{CustomID: "screen_lock"},
	}}

	in, resp, ok := interactionIntent(i)
	if !ok {
		t.Fatal("expected an intent")
	}
	if in.Caller != "discord:77" || in.MessageID != "msg1" || in.Action.Kind != domain.ActionScreenLock {
		t.Fatalf("unexpected intent %+v", in)
	}
	if resp.Type != discordgo.InteractionResponseDeferredMessageUpdate {
		t.Fatalf("unexpected ack type %v", resp.Type)
	}
}

func TestSlackBlocks(t *testing.T) {
	r := &domain.Response{
		Text:     `*Running processes:* my\_proc`,
		Markdown: true,
		Menu: &domain.Menu{Rows: [][]domain.Button{
			{{Label: "❌ Kill my_proc", Code: "kill_process_9"}},
			{{Label: "◀️ Back", Code: domain.CodeBackToMain}},
		}},
	}
	blocks := slackBlocks(r, r.Text)
	if len(blocks) != 3 {
		t.Fatalf("expected section + 2 action rows, got %d", len(blocks))
	}
	section := blocks[0].(*slack.SectionBlock)
	if section.Text.Type != slack.MarkdownType || section.Text.Text != "*Running processes:* my_proc" {
		t.Fatalf("unexpected section %+v", section.Text)
	}
	row := blocks[1].(*slack.ActionBlock)
	btn := row.Elements.ElementSet[0].(*slack.ButtonBlockElement)
	if btn.Value != "kill_process_9" {
		t.Fatalf("unexpected button value %q", btn.Value)
	}
}

func TestSlackInteractionIntent(t *testing.T) {
	var cb slack.InteractionCallback
	cb.Type = slack.InteractionTypeBlockActions
	cb.User.ID = "U1"
	cb.Channel.ID = "C1"
	cb.Message.Timestamp = "1700000000.000100"
	cb.ActionCallback.BlockActions = []*slack.BlockAction{{ActionID: "btn_0_0", Value: "confirm_power_sleep"}}

	in, ok := interactionCallbackIntent(cb)
	if !ok {
		t.Fatal("expected an intent")
	}
	if in.Caller != "slack:U1" || in.ChatID != "C1" || in.MessageID != "1700000000.000100" {
		t.Fatalf("unexpected routing %+v", in)
	}
	if in.Action.Kind != domain.ActionConfirm || in.Action.Target != "power_sleep" {
		t.Fatalf("unexpected action %+v", in.Action)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCLI_NumbersPressButtons(t *testing.T) {
	out := &syncBuffer{}
	c := NewCLI(CLIConfig{Logger: testLogger(), In: strings.NewReader(""), Out: out, PhotoDir: t.TempDir()})

	c.render(domain.OutboundMessage{Response: mainMenuResponse()})
	if !strings.Contains(out.String(), "[2] 🔒 Screen lock") {
		t.Fatalf("menu not numbered: %q", out.String())
	}

	in, ok := c.intentFor("1")
	if !ok || in.Kind != domain.IntentMenuSelect || in.Text != "💻 Power" {
		t.Fatalf("1 should select the first label, got %+v", in)
	}
	if in.Caller != ConsoleCaller {
		t.Fatalf("unexpected caller %q", in.Caller)
	}

	in, _ = c.intentFor("power_restart")
	if in.Kind != domain.IntentAction || in.Action.Power != domain.PowerRestart {
		t.Fatalf("raw action code should parse, got %+v", in)
	}

	in, _ = c.intentFor("9")
	if in.Kind != domain.IntentMenuSelect || in.Text != "9" {
		t.Fatalf("out of range number is plain text, got %+v", in)
	}

	in, _ = c.intentFor("/help")
	if in.Kind != domain.IntentCommand || in.Text != "help" {
		t.Fatalf("expected help command, got %+v", in)
	}
}

func TestCLI_SavesPhotos(t *testing.T) {
	dir := t.TempDir()
	out := &syncBuffer{}
	c := NewCLI(CLIConfig{Logger: testLogger(), In: strings.NewReader(""), Out: out, PhotoDir: dir})

	c.render(domain.OutboundMessage{Photo: &domain.Photo{Data: []byte("png"), Caption: "📸 Screenshot"}})

	files, err := filepath.Glob(filepath.Join(dir, "screenshot-*.png"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one saved screenshot, got %v (%v)", files, err)
	}
	data, _ := os.ReadFile(files[0])
	if string(data) != "png" {
		t.Fatalf("unexpected file content %q", data)
	}
}

func TestCLI_StartPublishesAndQuits(t *testing.T) {
	b := bus.New(4, testLogger())
	out := &syncBuffer{}
	c := NewCLI(CLIConfig{Logger: testLogger(), In: strings.NewReader("/start\n/quit\n"), Out: out})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Start(ctx, b); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case in := <-b.Subscribe():
		if in.Kind != domain.IntentCommand || in.Text != "start" {
			t.Fatalf("unexpected intent %+v", in)
		}
	default:
		t.Fatal("expected /start to be published")
	}
}
