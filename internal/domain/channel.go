package domain

import "context"

// Channel is a chat transport (Telegram, Discord, Slack, console). It turns
// user input into intents on the bus and renders outbound messages.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
