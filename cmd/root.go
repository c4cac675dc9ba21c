package cmd

import (
	"github.com/spf13/cobra"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/logger"
)

var (
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "wag",
	Short: "WhatsApp WS extension gateway",
	Long: `A command/response relay gateway for WhatsApp browser-extension agents.
Extensions connect over WebSocket and authenticate with an API key; the gateway
routes send commands to an active extension session and correlates the results.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel("debug")
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(apikeyCmd)
}
