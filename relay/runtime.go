package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
)

// BackgroundSubject is the default NATS subject the broker serves
const BackgroundSubject = "lucid.background"

// Handler answers one relay request
type Handler interface {
	Handle(ctx context.Context, req Message) Message
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, req Message) Message

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, req Message) Message {
	return f(ctx, req)
}

// Runtime is the isolated side's request/reply link to the background
type Runtime interface {
	// Valid reports whether the link can still be used
	Valid() bool
	Send(ctx context.Context, req Message) (Message, error)
}

// LocalRuntime calls a handler in-process. Once invalidated it refuses
// every request, as a reloaded extension does.
type LocalRuntime struct {
	handler     Handler
	invalidated atomic.Bool
}

// NewLocalRuntime creates a runtime in front of handler
func NewLocalRuntime(handler Handler) *LocalRuntime {
	return &LocalRuntime{handler: handler}
}

// Invalidate tears the runtime down
func (r *LocalRuntime) Invalidate() {
	r.invalidated.Store(true)
}

// Valid implements Runtime
func (r *LocalRuntime) Valid() bool {
	return !r.invalidated.Load()
}

// Send implements Runtime
func (r *LocalRuntime) Send(ctx context.Context, req Message) (Message, error) {
	if !r.Valid() {
		return Message{}, ErrContextInvalidated
	}
	return r.handler.Handle(ctx, req), nil
}

// NATSRuntime sends requests to a broker serving a NATS subject
type NATSRuntime struct {
	conn    *nats.Conn
	subject string
}

// NewNATSRuntime creates a runtime; an empty subject means BackgroundSubject
func NewNATSRuntime(conn *nats.Conn, subject string) *NATSRuntime {
	if subject == "" {
		subject = BackgroundSubject
	}
	return &NATSRuntime{conn: conn, subject: subject}
}

// Valid implements Runtime
func (r *NATSRuntime) Valid() bool {
	return r.conn != nil && !r.conn.IsClosed()
}

// Send implements Runtime
func (r *NATSRuntime) Send(ctx context.Context, req Message) (Message, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal relay request: %w", err)
	}

	reply, err := r.conn.RequestWithContext(ctx, r.subject, data)
	if err != nil {
		return Message{}, fmt.Errorf("background request failed: %w", err)
	}

	var resp Message
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return Message{}, fmt.Errorf("failed to decode background reply: %w", err)
	}
	return resp, nil
}
