package cli

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lucid-sec/lucid/go/relay"
)

func newBackground() *cobra.Command {
	return &cobra.Command{
		Use:   "background",
		Short: "Serve tokens, keys and relay-server calls to pages over NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			ctx := cmd.Context()

			if cfg.NATS.URL == "" {
				return errors.New("nats.url is required")
			}

			bg, err := openBackground(cfg)
			if err != nil {
				return err
			}
			defer bg.Close()

			bg.checkAuth(ctx)

			broker, err := relay.NewBroker(bg.auth, cfg.Relay.URL)
			if err != nil {
				return err
			}

			nc, err := connectNATS(cfg.NATS.URL)
			if err != nil {
				return err
			}
			defer nc.Close()

			if _, err := broker.ServeNATS(ctx, nc, cfg.NATS.Subject); err != nil {
				return err
			}

			<-ctx.Done()
			log.Info().Msg("background stopped")
			return nil
		},
	}
}
