package relay

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Bus is the page's broadcast channel. Every subscriber sees every
// published message, its own included.
type Bus interface {
	Publish(msg Message) error
	Subscribe(handler func(Message)) (unsubscribe func(), err error)
}

// ============================================================================
// In-process bus
// ============================================================================

// MemoryBus delivers messages synchronously on the publisher's goroutine.
// Handlers must not block.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[uint64]func(Message)
	next uint64
}

// NewMemoryBus creates an empty bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[uint64]func(Message))}
}

// Publish implements Bus
func (b *MemoryBus) Publish(msg Message) error {
	b.mu.RLock()
	handlers := make([]func(Message), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

// Subscribe implements Bus
func (b *MemoryBus) Subscribe(handler func(Message)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}, nil
}

// Subscribers returns the number of live subscriptions
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// ============================================================================
// NATS bus
// ============================================================================

// PageSubject is the NATS subject a page's bus lives on
func PageSubject(pageID string) string {
	return "lucid.page." + pageID
}

// NATSBus is a Bus on a NATS subject shared by one page's client and bridge
type NATSBus struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSBus creates a bus for pageID on conn
func NewNATSBus(conn *nats.Conn, pageID string) *NATSBus {
	return &NATSBus{
		conn:    conn,
		subject: PageSubject(pageID),
		logger:  log.Logger.With().Str("component", "relay_bus").Str("subject", PageSubject(pageID)).Logger(),
	}
}

// Subject returns the bus subject
func (b *NATSBus) Subject() string {
	return b.subject
}

// Publish implements Bus
func (b *NATSBus) Publish(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	return b.conn.Publish(b.subject, data)
}

// Subscribe implements Bus
func (b *NATSBus) Subscribe(handler func(Message)) (func(), error) {
	sub, err := b.conn.Subscribe(b.subject, func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			b.logger.Warn().Err(err).Msg("dropping malformed relay message")
			return
		}
		handler(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}
