package relay

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	lucid "github.com/lucid-sec/lucid/go"
	"github.com/lucid-sec/lucid/go/codec"
	lucidhttp "github.com/lucid-sec/lucid/go/http"
)

// Submitter relays a normalized transaction to the relay server: it
// fetches the token, then the key, encrypts the transaction and posts it
// through the background.
type Submitter struct {
	client       *Client
	relay        *lucidhttp.RelayClient
	notification lucidhttp.Notification
	logger       zerolog.Logger
}

// SubmitterOption configures a Submitter
type SubmitterOption func(*Submitter)

// WithPushNotification overrides the text pushed to the paired phone
func WithPushNotification(n lucidhttp.Notification) SubmitterOption {
	return func(s *Submitter) {
		s.notification = n
	}
}

// WithSubmitterLogger sets the submitter logger
func WithSubmitterLogger(l zerolog.Logger) SubmitterOption {
	return func(s *Submitter) {
		s.logger = l
	}
}

// NewSubmitter creates a submitter posting to relay through client
func NewSubmitter(client *Client, relay *lucidhttp.RelayClient, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		client:       client,
		relay:        relay,
		notification: lucidhttp.DefaultNotification,
		logger:       log.Logger.With().Str("component", "submitter").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ lucid.Submitter = (*Submitter)(nil)

// Submit implements lucid.Submitter
func (s *Submitter) Submit(ctx context.Context, tx lucid.NormalizedTransaction) error {
	token, err := s.client.AuthToken(ctx)
	if err != nil {
		return err
	}

	key, err := s.client.EncryptionKey(ctx)
	if err != nil {
		return err
	}

	content, err := codec.Encode(tx, key)
	if err != nil {
		return err
	}

	apiReq, err := s.relay.SubmitRequest(token, lucidhttp.SubmitRequest{
		RequestType:  string(tx.RequestType()),
		Content:      content,
		Notification: s.notification,
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("request_type", string(tx.RequestType())).Str("url", apiReq.URL).Msg("sending transaction to server")

	data, err := s.client.APIRequest(ctx, apiReq)
	if err != nil {
		return err
	}

	s.logger.Info().RawJSON("response", nonEmptyJSON(data)).Msg("server response received")
	return nil
}

func nonEmptyJSON(data []byte) []byte {
	if len(data) == 0 {
		return []byte("null")
	}
	return data
}
