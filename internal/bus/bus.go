package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based bus between transports and the dispatcher.
type InMemoryBus struct {
	inbound  chan domain.Intent
	handlers map[string]func(domain.OutboundMessage)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan domain.Intent, bufferSize),
		handlers: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(in domain.Intent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "intent", in.ID)
		return
	}

	select {
	case b.inbound <- in:
	default:
		b.logger.Warn("inbound bus full, waiting...", "channel", in.Channel, "caller", in.Caller)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- in:
			b.logger.Info("intent delivered after wait", "channel", in.Channel)
		case <-timer.C:
			b.logger.Error("intent dropped: bus full for 10s",
				"channel", in.Channel,
				"caller", in.Caller,
				"intent", in.ID,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.Intent {
	return b.inbound
}

// SendOutbound calls the channel's handler synchronously, so messages sent
// one after another from the same goroutine arrive in order.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return
	}

	handler(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
