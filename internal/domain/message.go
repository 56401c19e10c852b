package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallerID identifies the operator who issued an intent. Transports supply it
// per intent (the Telegram user ID, "console" for the local console).
type CallerID string

// IntentKind is the shape of an inbound event before classification.
type IntentKind int

const (
	// IntentCommand is a slash command such as /start or /help.
	IntentCommand IntentKind = iota + 1
	// IntentMenuSelect is a top-level menu label typed or picked from the main keyboard.
	IntentMenuSelect
	// IntentAction is an inline button press carrying an action code.
	IntentAction
)

func (k IntentKind) String() string {
	switch k {
	case IntentCommand:
		return "command"
	case IntentMenuSelect:
		return "menu"
	case IntentAction:
		return "action"
	}
	return "unknown"
}

// Intent is one inbound event delivered by a transport.
type Intent struct {
	ID        string
	Channel   string
	ChatID    string
	Caller    CallerID
	MessageID string // message the intent originated from; callback responses edit it
	Kind      IntentKind
	Text      string // command name (without slash) or menu label
	Action    Action // parsed action for IntentAction
	Timestamp time.Time
}

// NewActionIntent parses code and builds an IntentAction. Unknown codes still
// yield an intent (Action.Kind == ActionUnknown) so the dispatcher can answer.
func NewActionIntent(channel, chatID string, caller CallerID, messageID, code string) Intent {
	action, _ := ParseAction(code)
	return Intent{
		ID:        uuid.NewString(),
		Channel:   channel,
		ChatID:    chatID,
		Caller:    caller,
		MessageID: messageID,
		Kind:      IntentAction,
		Action:    action,
		Timestamp: time.Now(),
	}
}

// NewTextIntent builds a command or menu-select intent.
func NewTextIntent(channel, chatID string, caller CallerID, kind IntentKind, text string) Intent {
	return Intent{
		ID:        uuid.NewString(),
		Channel:   channel,
		ChatID:    chatID,
		Caller:    caller,
		Kind:      kind,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Button is one selectable entry of a menu.
type Button struct {
	Label string
	Code  string
}

// Menu is a grid of buttons, row by row.
type Menu struct {
	Rows [][]Button
}

// Codes returns every action code in the menu in row order.
func (m *Menu) Codes() []string {
	if m == nil {
		return nil
	}
	var codes []string
	for _, row := range m.Rows {
		for _, b := range row {
			codes = append(codes, b.Code)
		}
	}
	return codes
}

// Response is a message emitted back to the transport.
type Response struct {
	Text     string
	Menu     *Menu // inline action menu, may be nil
	MainMenu bool  // show the persistent main keyboard (always sent as a new message)
	Markdown bool
}

// Photo is an image payload for the transport's image sink.
type Photo struct {
	Data    []byte
	Name    string
	Caption string
}

// OutboundMessage carries either a Response or a Photo to one chat.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	EditID   string // when set the transport may edit this message instead of sending
	IntentID string
	Response *Response
	Photo    *Photo
}
