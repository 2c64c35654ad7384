package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	lucid "github.com/lucid-sec/lucid/go"
	"github.com/lucid-sec/lucid/go/codec"
	lucidhttp "github.com/lucid-sec/lucid/go/http"
)

// Default per-operation bounds
const (
	DefaultTokenTimeout   = 10 * time.Second
	DefaultKeyTimeout     = 10 * time.Second
	DefaultNetworkTimeout = 30 * time.Second
)

// Timeouts bounds each relay operation
type Timeouts struct {
	Token   time.Duration
	Key     time.Duration
	Network time.Duration
}

// DefaultTimeouts returns the default bounds
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Token:   DefaultTokenTimeout,
		Key:     DefaultKeyTimeout,
		Network: DefaultNetworkTimeout,
	}
}

// pendingCall is one waiting request. ch has room for exactly one response.
type pendingCall struct {
	kind MessageType
	seq  uint64
	ch   chan Message
}

// Client is the page-side endpoint of the relay channel. Each call
// registers a pending entry keyed by a fresh correlation id; the entry is
// removed when its response arrives, when it times out, or when the
// caller's context ends, whichever comes first.
type Client struct {
	bus         Bus
	unsubscribe func()
	timeouts    Timeouts
	logger      zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
	seq     uint64
	closed  bool
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithTimeouts overrides the per-operation bounds. Zero fields keep their default.
func WithTimeouts(t Timeouts) ClientOption {
	return func(c *Client) {
		if t.Token > 0 {
			c.timeouts.Token = t.Token
		}
		if t.Key > 0 {
			c.timeouts.Key = t.Key
		}
		if t.Network > 0 {
			c.timeouts.Network = t.Network
		}
	}
}

// WithClientLogger sets the client logger
func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient subscribes a client to bus
func NewClient(bus Bus, opts ...ClientOption) (*Client, error) {
	c := &Client{
		bus:      bus,
		timeouts: DefaultTimeouts(),
		logger:   log.Logger.With().Str("component", "relay_client").Logger(),
		pending:  make(map[string]*pendingCall),
	}
	for _, opt := range opts {
		opt(c)
	}

	unsubscribe, err := bus.Subscribe(c.dispatch)
	if err != nil {
		return nil, err
	}
	c.unsubscribe = unsubscribe
	return c, nil
}

// Close unsubscribes the client. Calls still waiting end at their timeout.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.unsubscribe()
}

// Pending returns the number of calls waiting for a response
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// AuthToken fetches a bearer token
func (c *Client) AuthToken(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, Message{Type: TypeGetAuthToken}, c.timeouts.Token)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", lucid.NewPipelineError(lucid.ErrCodeRelay, "no auth token available",
			&RelayError{Type: resp.Type, Message: "No auth token available"})
	}
	return resp.Token, nil
}

// EncryptionKey fetches the encryption key
func (c *Client) EncryptionKey(ctx context.Context) (*codec.Key, error) {
	resp, err := c.call(ctx, Message{Type: TypeGetEncryptionKey}, c.timeouts.Key)
	if err != nil {
		return nil, err
	}
	if resp.JWK == nil {
		return nil, lucid.NewEncryptionError("no encryption key available",
			&RelayError{Type: resp.Type, Message: "No encryption key available"})
	}
	return resp.JWK, nil
}

// APIRequest has the background perform a network call and returns the
// response body
func (c *Client) APIRequest(ctx context.Context, req lucidhttp.APIRequest) (json.RawMessage, error) {
	resp, err := c.call(ctx, Message{
		Type:    TypeMakeAPIRequest,
		URL:     req.URL,
		Method:  req.Method,
		Headers: req.Headers,
		Body:    req.Body,
	}, c.timeouts.Network)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) call(ctx context.Context, req Message, timeout time.Duration) (Message, error) {
	respType, ok := req.Type.ResponseType()
	if !ok {
		return Message{}, fmt.Errorf("relay: %s is not a request type", req.Type)
	}

	req.ID = uuid.NewString()
	pc := &pendingCall{kind: respType, ch: make(chan Message, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, ErrClosed
	}
	c.seq++
	pc.seq = c.seq
	c.pending[req.ID] = pc
	c.mu.Unlock()
	defer c.remove(req.ID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if err := c.bus.Publish(req); err != nil {
		return Message{}, lucid.NewPipelineError(lucid.ErrCodeRelay, "failed to publish "+string(req.Type), err)
	}

	select {
	case resp := <-pc.ch:
		if resp.Error != "" {
			return Message{}, responseError(resp)
		}
		return resp, nil
	case <-timer.C:
		c.logger.Warn().Str("type", string(req.Type)).Str("id", req.ID).Dur("timeout", timeout).Msg("relay request timed out")
		return Message{}, timeoutError(respType, ErrRelayTimeout)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *Client) remove(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// dispatch routes a response to its pending call. A response without an
// id goes to the oldest call waiting for that type. Responses nobody is
// waiting for are dropped.
func (c *Client) dispatch(msg Message) {
	if !msg.Type.IsResponse() {
		return
	}

	c.mu.Lock()
	id := msg.ID
	pc, ok := c.pending[id]
	if id == "" {
		for pid, p := range c.pending {
			if p.kind == msg.Type && (pc == nil || p.seq < pc.seq) {
				id, pc = pid, p
			}
		}
		ok = pc != nil
	}
	if ok && pc.kind != msg.Type {
		ok = false
	}
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug().Str("type", string(msg.Type)).Str("id", msg.ID).Msg("dropping unmatched relay response")
		return
	}
	pc.ch <- msg
}

// IsTimeout reports whether err is a relay timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrRelayTimeout)
}
