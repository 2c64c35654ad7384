package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const appLinkFlag = "app-link"

func newPair() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Print the link that pairs a phone with this device",
		Long: `Print the deep link a phone opens to pair with this device.
The link carries the encryption key: show it to no one but yourself.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			appLink := cfg.Relay.AppLink
			if cmd.Flags().Changed(appLinkFlag) {
				appLink, _ = cmd.Flags().GetString(appLinkFlag)
			}

			bg, err := openBackground(cfg)
			if err != nil {
				return err
			}
			defer bg.Close()

			link, err := bg.auth.PairingLink(cmd.Context(), appLink)
			if err != nil {
				return fmt.Errorf("failed to build pairing link: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), link)
			return err
		},
	}
	cmd.Flags().String(appLinkFlag, "", "app deep link prefix (overrides relay.app_link)")
	return cmd
}
