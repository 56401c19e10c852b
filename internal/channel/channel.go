// Package channel holds the chat transports. Transports only translate:
// authorization, state and every decision live in the dispatcher.
package channel

import (
	"strings"
	"unicode/utf8"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

// ConsoleCaller is the caller identity of the local console.
const ConsoleCaller domain.CallerID = "console"

// menuPrefix marks button data that selects a main menu label rather than
// carrying an action code. Transports without a persistent keyboard render
// the main menu as buttons.
const menuPrefix = "menu:"

// textIntent turns a typed line into a command or menu-select intent.
func textIntent(channel, chatID string, caller domain.CallerID, text string) (domain.Intent, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Intent{}, false
	}
	if strings.HasPrefix(text, "/") {
		name := strings.TrimPrefix(strings.Fields(text)[0], "/")
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i] // "/start@my_bot" in group chats
		}
		return domain.NewTextIntent(channel, chatID, caller, domain.IntentCommand, strings.ToLower(name)), true
	}
	return domain.NewTextIntent(channel, chatID, caller, domain.IntentMenuSelect, text), true
}

// buttonData is what a pressed button sends back.
func buttonData(r *domain.Response, b domain.Button) string {
	if r.MainMenu {
		return menuPrefix + b.Label
	}
	return b.Code
}

// buttonIntent is the inverse of buttonData.
func buttonIntent(channel, chatID string, caller domain.CallerID, messageID, data string) domain.Intent {
	if label, ok := strings.CutPrefix(data, menuPrefix); ok {
		return domain.NewTextIntent(channel, chatID, caller, domain.IntentMenuSelect, label)
	}
	return domain.NewActionIntent(channel, chatID, caller, messageID, data)
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		// Try to split on a newline.
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
