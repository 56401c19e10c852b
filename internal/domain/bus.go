package domain

// MessageBus routes intents from transports to the dispatcher and responses back.
type MessageBus interface {
	Publish(in Intent)
	Subscribe() <-chan Intent
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
