package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	lucid "github.com/lucid-sec/lucid/go"
	"github.com/lucid-sec/lucid/go/codec"
	lucidhttp "github.com/lucid-sec/lucid/go/http"
)

// Credentials is what the background holds on behalf of the page
type Credentials interface {
	Token(ctx context.Context) (string, error)
	EncryptionKey(ctx context.Context) (*codec.Key, error)
}

// Broker is the background side of the relay. It hands out the token and
// key and performs network calls to the relay server, and only to it.
type Broker struct {
	creds      Credentials
	base       *url.URL
	httpClient *http.Client
	logger     zerolog.Logger
}

// BrokerOption configures a Broker
type BrokerOption func(*Broker)

// WithBrokerHTTPClient sets the client network calls go through. It is
// used as given; no bearer transport is added.
func WithBrokerHTTPClient(client *http.Client) BrokerOption {
	return func(b *Broker) {
		b.httpClient = client
	}
}

// WithBrokerLogger sets the broker logger
func WithBrokerLogger(l zerolog.Logger) BrokerOption {
	return func(b *Broker) {
		b.logger = l
	}
}

// NewBroker creates a broker that may only reach relayURL
func NewBroker(creds Credentials, relayURL string, opts ...BrokerOption) (*Broker, error) {
	base, err := url.Parse(strings.TrimRight(relayURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid relay URL %q", relayURL)
	}

	b := &Broker{
		creds:  creds,
		base:   base,
		logger: log.Logger.With().Str("component", "relay_broker").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.httpClient == nil {
		b.httpClient = lucidhttp.WrapHTTPClientWithBearer(&http.Client{Timeout: lucidhttp.DefaultTimeout}, creds)
	}
	return b, nil
}

var _ Handler = (*Broker)(nil)

// Handle implements Handler
func (b *Broker) Handle(ctx context.Context, req Message) Message {
	switch req.Type {
	case TypeGetAuthToken:
		token, err := b.creds.Token(ctx)
		if err != nil {
			b.logger.Error().Err(err).Msg("auth token unavailable")
			return req.Fail(lucid.ErrCodeRelay, err.Error())
		}
		resp := req.Reply()
		resp.Token = token
		return resp

	case TypeGetEncryptionKey:
		key, err := b.creds.EncryptionKey(ctx)
		if err != nil {
			b.logger.Error().Err(err).Msg("encryption key unavailable")
			return req.Fail(lucid.ErrCodeEncryption, err.Error())
		}
		resp := req.Reply()
		resp.JWK = key
		return resp

	case TypeMakeAPIRequest:
		return b.perform(ctx, req)

	default:
		return Message{Type: req.Type, ID: req.ID, Code: lucid.ErrCodeRelay, Error: fmt.Sprintf("unknown message type %q", req.Type)}
	}
}

func (b *Broker) perform(ctx context.Context, req Message) Message {
	if !b.Allowed(req.URL) {
		b.logger.Warn().Str("url", req.URL).Msg("refusing request outside the relay server")
		return req.Fail(lucid.ErrCodeRelay, "URL not allowed: "+req.URL)
	}

	data, err := lucidhttp.Perform(ctx, b.httpClient, lucidhttp.APIRequest{
		URL:     req.URL,
		Method:  req.Method,
		Headers: req.Headers,
		Body:    req.Body,
	})
	if err != nil {
		resp := req.Fail(lucid.ErrCodeRelay, err.Error())
		var serverErr *lucidhttp.ServerError
		if errors.As(err, &serverErr) {
			resp.Status = serverErr.Status
			resp.Data = serverErr.Data
		}
		b.logger.Error().Err(err).Str("url", req.URL).Msg("api request failed")
		return resp
	}

	resp := req.Reply()
	resp.Status = http.StatusOK
	resp.Data = data
	return resp
}

// Allowed reports whether rawURL lies under the relay base URL
func (b *Broker) Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Scheme, b.base.Scheme) || !strings.EqualFold(u.Host, b.base.Host) {
		return false
	}
	if u.User != nil {
		return false
	}
	basePath := b.base.Path
	if basePath == "" {
		return true
	}
	return u.Path == basePath || strings.HasPrefix(u.Path, basePath+"/")
}

// ServeNATS answers requests arriving on subject until ctx is done
func (b *Broker) ServeNATS(ctx context.Context, conn *nats.Conn, subject string) (*nats.Subscription, error) {
	if subject == "" {
		subject = BackgroundSubject
	}

	sub, err := conn.Subscribe(subject, func(m *nats.Msg) {
		var req Message
		if err := json.Unmarshal(m.Data, &req); err != nil {
			b.logger.Warn().Err(err).Msg("dropping malformed background request")
			return
		}

		data, err := json.Marshal(b.Handle(ctx, req))
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to marshal background reply")
			return
		}
		if err := m.Respond(data); err != nil {
			b.logger.Error().Err(err).Msg("failed to send background reply")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()

	b.logger.Info().Str("subject", subject).Msg("serving relay requests")
	return sub, nil
}
