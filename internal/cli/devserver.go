package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"time"

	ginlib "github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lucid-sec/lucid/go/internal/config"
	lucidgin "github.com/lucid-sec/lucid/go/pkg/gin"
)

const addrFlag = "addr"

func newDevServer() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local relay server for end-to-end testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			addr := cfg.DevServer.Addr
			if cmd.Flags().Changed(addrFlag) {
				addr, _ = cmd.Flags().GetString(addrFlag)
			}

			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			_, err = serveDevServer(cmd.Context(), listener, cfg)
			return err
		},
	}
	cmd.Flags().String(addrFlag, "", "listen address (overrides devserver.addr)")
	return cmd
}

// startDevServer serves the dev relay server on listener in the background
// and returns the server plus a func that stops it
func startDevServer(cfg *config.Config, listener net.Listener, opts ...lucidgin.ServerOption) (*lucidgin.Server, func(), error) {
	secret := []byte(cfg.DevServer.JWTSecret)
	if len(secret) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, err
		}
		secret = []byte(hex.EncodeToString(buf))
		log.Warn().Msg("devserver.jwt_secret not set, sessions will not survive a restart")
	}

	registry := prometheus.NewRegistry()
	metrics, err := lucidgin.NewHTTPMetrics(registry)
	if err != nil {
		return nil, nil, err
	}

	srv, err := lucidgin.NewServer(secret, append([]lucidgin.ServerOption{lucidgin.WithMetrics(metrics)}, opts...)...)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Environment == config.Production {
		ginlib.SetMode(ginlib.ReleaseMode)
	}
	engine := srv.Handler()
	engine.GET("/metrics", ginlib.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	httpServer := &http.Server{Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("devserver failed")
		}
	}()
	log.Info().Str("addr", listener.Addr().String()).Msg("devserver listening")

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}
	return srv, stop, nil
}

func serveDevServer(ctx context.Context, listener net.Listener, cfg *config.Config) (*lucidgin.Server, error) {
	srv, stop, err := startDevServer(cfg, listener)
	if err != nil {
		return nil, err
	}
	<-ctx.Done()
	stop()
	log.Info().Msg("devserver stopped")
	return srv, nil
}
