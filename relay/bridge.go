package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	lucid "github.com/lucid-sec/lucid/go"
)

// Bridge is the isolated side of the relay. It answers every request seen
// on the page bus by forwarding it over the runtime.
type Bridge struct {
	bus     Bus
	runtime Runtime
	timeout time.Duration
	logger  zerolog.Logger

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	inflight    sync.WaitGroup
}

// BridgeOption configures a Bridge
type BridgeOption func(*Bridge)

// WithBridgeTimeout bounds each forwarded request
func WithBridgeTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.timeout = d
	}
}

// WithBridgeLogger sets the bridge logger
func WithBridgeLogger(l zerolog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = l
	}
}

// NewBridge creates a bridge between bus and runtime
func NewBridge(bus Bus, runtime Runtime, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		bus:     bus,
		runtime: runtime,
		timeout: DefaultNetworkTimeout,
		logger:  log.Logger.With().Str("component", "relay_bridge").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start subscribes the bridge to the bus. Forwarded requests inherit ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	unsubscribe, err := b.bus.Subscribe(b.handle)
	if err != nil {
		b.cancel()
		return err
	}
	b.unsubscribe = unsubscribe
	return nil
}

// Close unsubscribes and waits for forwarded requests to finish
func (b *Bridge) Close() {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.inflight.Wait()
}

func (b *Bridge) handle(msg Message) {
	if !msg.Type.IsRequest() {
		return
	}

	if !b.runtime.Valid() {
		b.logger.Error().Str("type", string(msg.Type)).Msg("runtime invalid, extension may have been reloaded")
		b.publish(msg.Fail(lucid.ErrCodeContextInvalidated, ContextInvalidatedMessage))
		return
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.publish(b.forward(msg))
	}()
}

func (b *Bridge) forward(req Message) Message {
	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	resp, err := b.runtime.Send(ctx, req)
	if errors.Is(err, ErrContextInvalidated) {
		return req.Fail(lucid.ErrCodeContextInvalidated, ContextInvalidatedMessage)
	}
	if err != nil {
		b.logger.Error().Err(err).Str("type", string(req.Type)).Msg("runtime request failed")
		return req.Fail(lucid.ErrCodeRelay, err.Error())
	}

	// The response always answers this request, whatever the runtime echoed
	expected := req.Reply()
	resp.Type = expected.Type
	resp.ID = expected.ID
	return resp
}

func (b *Bridge) publish(msg Message) {
	if err := b.bus.Publish(msg); err != nil {
		b.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to publish relay response")
	}
}
