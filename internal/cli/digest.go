package cli

import (
	"github.com/spf13/cobra"
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Build and dispatch a market digest immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunDigest(cmd.Context())
	},
}
