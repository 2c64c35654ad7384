package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	lucid "github.com/lucid-sec/lucid/go"
	"github.com/lucid-sec/lucid/go/auth"
	lucidhttp "github.com/lucid-sec/lucid/go/http"
	"github.com/lucid-sec/lucid/go/internal/config"
	"github.com/lucid-sec/lucid/go/mechanisms/evm"
	"github.com/lucid-sec/lucid/go/relay"
	"github.com/lucid-sec/lucid/go/storage"
)

// background is everything the privileged side holds
type background struct {
	store storage.Store
	relay *lucidhttp.RelayClient
	auth  *auth.Service
}

func openBackground(cfg *config.Config) (*background, error) {
	store, err := storage.NewBadgerStore(storage.BadgerConfig{
		DBPath:        cfg.Storage.Path,
		EncryptionKey: []byte(cfg.Storage.EncryptionKey),
		InMemory:      cfg.Storage.InMemory,
	})
	if err != nil {
		return nil, err
	}

	relayClient := newRelayClient(cfg)
	return &background{
		store: store,
		relay: relayClient,
		auth:  auth.NewService(relayClient, store),
	}, nil
}

func newRelayClient(cfg *config.Config) *lucidhttp.RelayClient {
	return lucidhttp.NewRelayClient(&lucidhttp.RelayConfig{
		URL:     cfg.Relay.URL,
		Timeout: cfg.Relay.Timeout,
	})
}

func (b *background) Close() {
	if err := b.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close store")
	}
}

// checkAuth makes sure a session exists. Failures are logged only; the
// next token request retries.
func (b *background) checkAuth(ctx context.Context) {
	session, err := b.auth.GetOrRefresh(ctx)
	if err != nil {
		log.Error().Err(err).Msg("auth check/refresh failed")
		return
	}
	log.Info().Str("device_id", session.Data.DeviceID).Msg("auth ready")
}

func connectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("lucid"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	)
}

func relayTimeouts(cfg *config.Config) relay.Timeouts {
	return relay.Timeouts{
		Token:   cfg.Relay.TokenTimeout,
		Key:     cfg.Relay.KeyTimeout,
		Network: cfg.Relay.NetworkTimeout,
	}
}

// interceptorOptions maps the configuration onto interceptor options
func interceptorOptions(ctx context.Context, cfg *config.Config) ([]lucid.InterceptorOption, func(), error) {
	opts := []lucid.InterceptorOption{
		lucid.WithPollInterval(cfg.Interceptor.PollInterval),
		lucid.WithPollCeiling(cfg.Interceptor.PollCeiling),
	}
	if len(cfg.Interceptor.Slots) > 0 {
		opts = append(opts, lucid.WithSlots(cfg.Interceptor.Slots...))
	}
	if cfg.Interceptor.Cooldown > 0 {
		opts = append(opts, lucid.WithProcessingCooldown(cfg.Interceptor.Cooldown))
	}

	var extractorOpts []evm.ExtractorOption
	closeRPC := func() {}
	if cfg.RPC.URL != "" {
		chainState, closeFn, err := evm.DialRPCChainState(ctx, cfg.RPC.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial rpc: %w", err)
		}
		extractorOpts = append(extractorOpts, evm.WithChainState(chainState))
		closeRPC = closeFn
	}
	opts = append(opts, evm.InterceptorOptions(extractorOpts...)...)
	return opts, closeRPC, nil
}
