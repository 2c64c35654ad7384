// Package cli implements the lucid command line
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lucid-sec/lucid/go/internal/config"
	"github.com/lucid-sec/lucid/go/internal/logger"
)

const (
	configFlag   = "config"
	logLevelFlag = "log-level"
	prettyFlag   = "pretty"
)

type configKey struct{}

// New builds the root command
func New() *cobra.Command {
	root := &cobra.Command{
		Use:   "lucid",
		Short: "Relay wallet signing requests to a paired phone for review",
		Long: `lucid watches wallet providers for signing requests, encrypts the
transaction and relays it to the Lucid server so a paired phone can
review it before it is signed.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString(configFlag)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed(logLevelFlag) {
				cfg.Log.Level, _ = cmd.Flags().GetString(logLevelFlag)
			}
			if cmd.Flags().Changed(prettyFlag) {
				cfg.Log.Pretty, _ = cmd.Flags().GetBool(prettyFlag)
			}
			logger.SetupWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Pretty)

			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
	}

	root.PersistentFlags().String(configFlag, "", "config file (default ./lucid.yaml or ~/.lucid/lucid.yaml)")
	root.PersistentFlags().String(logLevelFlag, "", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().Bool(prettyFlag, false, "human-readable log output")

	root.AddCommand(
		newBackground(),
		newPair(),
		newDevServer(),
		newSimulate(),
	)
	return root
}

// Execute runs the root command until it returns or the process is signalled
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := New().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		stop()
		os.Exit(1)
	}
}

func configFrom(cmd *cobra.Command) *config.Config {
	return cmd.Context().Value(configKey{}).(*config.Config)
}
