package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// botAPI is the subset of *tgbotapi.BotAPI used after connecting.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram implements domain.Channel for Telegram Bot.
type Telegram struct {
	token string

	bot    botAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token  string
	Logger *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	return &Telegram{
		token:  cfg.Token,
		logger: cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	api, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = api
	t.logger.Info("telegram bot connected",
		"username", api.Self.UserName,
		"id", api.Self.ID,
	)

	bus.OnOutbound(t.Name(), t.deliver)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// calling StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if cq := update.CallbackQuery; cq != nil {
		// Answer right away so the client stops its spinner.
		if _, err := t.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			t.logger.Debug("callback answer failed", "err", err)
		}
	}

	in, ok := intentFromUpdate(update)
	if !ok {
		return
	}
	t.logger.Info("telegram intent received",
		"caller", in.Caller,
		"chat_id", in.ChatID,
		"kind", in.Kind.String(),
	)
	t.bus.Publish(in)
}

// intentFromUpdate converts a callback press into an action intent and a
// text message into a command or menu-select intent.
func intentFromUpdate(update tgbotapi.Update) (domain.Intent, bool) {
	if cq := update.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
			return domain.Intent{}, false
		}
		return domain.NewActionIntent(
			"telegram",
			strconv.FormatInt(cq.Message.Chat.ID, 10),
			domain.CallerID(strconv.FormatInt(cq.From.ID, 10)),
			strconv.Itoa(cq.Message.MessageID),
			cq.Data,
		), true
	}

	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return domain.Intent{}, false
	}
	in, ok := textIntent(
		"telegram",
		strconv.FormatInt(m.Chat.ID, 10),
		domain.CallerID(strconv.FormatInt(m.From.ID, 10)),
		m.Text,
	)
	if ok {
		in.Timestamp = time.Unix(int64(m.Date), 0)
	}
	return in, ok
}

func (t *Telegram) deliver(msg domain.OutboundMessage) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
		return
	}

	if p := msg.Photo; p != nil {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: p.Name, Bytes: p.Data})
		photo.Caption = p.Caption
		if _, err := t.bot.Send(photo); err != nil {
			t.logger.Error("telegram photo send failed", "chat_id", chatID, "err", err)
		}
	}

	r := msg.Response
	if r == nil {
		return
	}
	parseMode := ""
	if r.Markdown {
		parseMode = tgbotapi.ModeMarkdown
	}

	// The reply keyboard can only be attached to a new message.
	if msg.EditID != "" && !r.MainMenu && len(r.Text) <= telegramMaxMsgLen {
		if id, err := strconv.Atoi(msg.EditID); err == nil && t.editMessage(chatID, id, r, parseMode) {
			return
		}
	}
	t.sendMessage(chatID, r.Text, parseMode, replyMarkup(r))
}

// editMessage replaces the text and inline keyboard of an earlier message.
// It reports false when the caller should send a new message instead.
func (t *Telegram) editMessage(chatID int64, messageID int, r *domain.Response, parseMode string) bool {
	build := func(mode string) tgbotapi.EditMessageTextConfig {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, r.Text)
		edit.ParseMode = mode
		if r.Menu != nil {
			kb := inlineKeyboard(r)
			edit.ReplyMarkup = &kb
		}
		return edit
	}

	_, err := t.bot.Send(build(parseMode))
	if err == nil {
		return true
	}
	errStr := err.Error()
	if strings.Contains(errStr, "message is not modified") {
		return true
	}
	if parseMode != "" && strings.Contains(errStr, "can't parse entities") {
		if _, err := t.bot.Send(build("")); err == nil {
			return true
		}
	}
	t.logger.Warn("telegram edit failed, sending new message", "chat_id", chatID, "message_id", messageID, "err", err)
	return false
}

// replyMarkup picks the persistent reply keyboard for the main menu and an
// inline keyboard for everything else.
func replyMarkup(r *domain.Response) any {
	switch {
	case r.Menu == nil:
		return nil
	case r.MainMenu:
		return replyKeyboard(r.Menu)
	}
	return inlineKeyboard(r)
}

func replyKeyboard(m *domain.Menu) tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(m.Rows))
	for _, row := range m.Rows {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(b.Label))
		}
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(buttons...))
	}
	return tgbotapi.NewReplyKeyboard(rows...)
}

func inlineKeyboard(r *domain.Response) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(r.Menu.Rows))
	for _, row := range r.Menu.Rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, buttonData(r, b)))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// sendMessage splits text at Telegram's limit. The markup goes on the last chunk.
func (t *Telegram) sendMessage(chatID int64, text, parseMode string, markup any) {
	chunks := splitMessage(text, telegramMaxMsgLen)
	for i, chunk := range chunks {
		var m any
		if i == len(chunks)-1 {
			m = markup
		}
		t.sendChunk(chatID, chunk, parseMode, m)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try the parse mode first, on a parse error fall back to plain
// text, otherwise retry with backoff.
func (t *Telegram) sendChunk(chatID int64, text, parseMode string, markup any) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 {
			msg.ParseMode = parseMode
		}
		if markup != nil {
			msg.ReplyMarkup = markup
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			continue
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
