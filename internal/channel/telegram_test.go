package channel

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	editErr error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	if _, ok := c.(tgbotapi.EditMessageTextConfig); ok && b.editErr != nil {
		return tgbotapi.Message{}, b.editErr
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func newTestTelegram(bot *fakeBot) *Telegram {
	t := NewTelegram(TelegramConfig{Logger: testLogger()})
	t.bot = bot
	return t
}

func TestIntentFromUpdate_Callback(t *testing.T) {
	update := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{
			MessageID: 11,
			Chat:      &tgbotapi.Chat{ID: 900},
		},
		Data: "power_restart",
	}}

	in, ok := intentFromUpdate(update)
	if !ok {
		t.Fatal("expected an intent")
	}
	if in.Kind != domain.IntentAction || in.Action.Kind != domain.ActionPower || in.Action.Power != domain.PowerRestart {
		t.Fatalf("unexpected intent %+v", in)
	}
	if in.Caller != "42" || in.ChatID != "900" || in.MessageID != "11" || in.Channel != "telegram" {
		t.Fatalf("unexpected routing fields %+v", in)
	}
}

func TestIntentFromUpdate_Text(t *testing.T) {
	tests := []struct {
		text string
		kind domain.IntentKind
		want string
	}{
		{"/start", domain.IntentCommand, "start"},
		{"/Help@remote_bot", domain.IntentCommand, "help"},
		{"💻 Power", domain.IntentMenuSelect, "💻 Power"},
	}
	for _, tt := range tests {
		update := tgbotapi.Update{Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 1},
			Chat: &tgbotapi.Chat{ID: 1},
			Text: tt.text,
		}}
		in, ok := intentFromUpdate(update)
		if !ok {
			t.Fatalf("%q: expected an intent", tt.text)
		}
		if in.Kind != tt.kind || in.Text != tt.want {
			t.Errorf("%q: got kind=%v text=%q", tt.text, in.Kind, in.Text)
		}
	}

	if _, ok := intentFromUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 1}, Text: "   ",
	}}); ok {
		t.Error("blank text should not produce an intent")
	}
}

func TestDeliver_EditsCallbackMessage(t *testing.T) {
	bot := &fakeBot{}
	tg := newTestTelegram(bot)

	tg.deliver(domain.OutboundMessage{
		ChatID: "900",
		EditID: "11",
		Response: &domain.Response{
			Text: "⚠️ Are you sure?",
			Menu: &domain.Menu{Rows: [][]domain.Button{{{Label: "✅ Confirm", Code: "confirm_power_restart"}}}},
		},
	})

	if len(bot.sent) != 1 {
		t.Fatalf("expected 1 call, got %d", len(bot.sent))
	}
	edit, ok := bot.sent[0].(tgbotapi.EditMessageTextConfig)
	if !ok {
		t.Fatalf("expected an edit, got %T", bot.sent[0])
	}
	if edit.MessageID != 11 || edit.ChatID != 900 {
		t.Fatalf("edit targets wrong message: %+v", edit.BaseEdit)
	}
	if edit.ReplyMarkup == nil || *edit.ReplyMarkup.InlineKeyboard[0][0].CallbackData != "confirm_power_restart" {
		t.Fatalf("inline keyboard not attached: %+v", edit.ReplyMarkup)
	}
}

func TestDeliver_MainMenuSendsReplyKeyboard(t *testing.T) {
	bot := &fakeBot{}
	tg := newTestTelegram(bot)

	tg.deliver(domain.OutboundMessage{
		ChatID: "5",
		EditID: "3",
		Response: &domain.Response{
			Text:     "menu",
			MainMenu: true,
			Menu:     &domain.Menu{Rows: [][]domain.Button{{{Label: "💻 Power", Code: "💻 Power"}}}},
		},
	})

	if len(bot.sent) != 1 {
		t.Fatalf("expected 1 call, got %d", len(bot.sent))
	}
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("expected a new message, got %T", bot.sent[0])
	}
	kb, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	if !ok || kb.Keyboard[0][0].Text != "💻 Power" {
		t.Fatalf("expected reply keyboard, got %#v", msg.ReplyMarkup)
	}
}

func TestDeliver_EditFailureFallsBackToSend(t *testing.T) {
	bot := &fakeBot{editErr: errors.New("Bad Request: message to edit not found")}
	tg := newTestTelegram(bot)

	tg.deliver(domain.OutboundMessage{ChatID: "5", EditID: "3", Response: &domain.Response{Text: "done"}})

	if len(bot.sent) != 2 {
		t.Fatalf("expected edit then send, got %d calls", len(bot.sent))
	}
	if _, ok := bot.sent[1].(tgbotapi.MessageConfig); !ok {
		t.Fatalf("expected fallback message, got %T", bot.sent[1])
	}
}

func TestDeliver_Photo(t *testing.T) {
	bot := &fakeBot{}
	tg := newTestTelegram(bot)

	tg.deliver(domain.OutboundMessage{
		ChatID: "5",
		Photo:  &domain.Photo{Data: []byte("png"), Name: "screenshot.png", Caption: "📸"},
	})

	if len(bot.sent) != 1 {
		t.Fatalf("expected 1 call, got %d", len(bot.sent))
	}
	photo, ok := bot.sent[0].(tgbotapi.PhotoConfig)
	if !ok {
		t.Fatalf("expected photo, got %T", bot.sent[0])
	}
	if photo.Caption != "📸" {
		t.Fatalf("caption lost: %q", photo.Caption)
	}
}

func TestSplitMessage(t *testing.T) {
	chunks := splitMessage("ааааа", 5) // 2 bytes per rune
	joined := ""
	for _, c := range chunks {
		if len(c) > 5 {
			t.Fatalf("chunk too long: %q", c)
		}
		joined += c
	}
	if joined != "ааааа" {
		t.Fatalf("chunks lost data: %q", chunks)
	}
	if chunks[0] != "аа" {
		t.Fatalf("split inside a rune: %q", chunks[0])
	}
}
