package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/gateway"
	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/logger"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway daemon",
	Long: `Start the gateway daemon: the WebSocket endpoint for extension
connections and the REST API for send operations and administration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.New()
		log.Info().
			Str("config_path", serveConfigPath).
			Msg("Starting gateway daemon")

		// Create a default config on first run
		if _, err := os.Stat(serveConfigPath); os.IsNotExist(err) {
			defaultConfig := gateway.NewDefaultConfig()
			if err := gateway.SaveConfig(defaultConfig, serveConfigPath); err != nil {
				return fmt.Errorf("failed to create default config file: %w", err)
			}
			log.Info().
				Str("config_path", serveConfigPath).
				Msg("Created default configuration file. Please edit it with your settings.")
			return nil
		}

		daemon, err := gateway.NewDaemon(serveConfigPath)
		if err != nil {
			return fmt.Errorf("failed to create gateway daemon: %w", err)
		}

		// Blocks until shutdown
		if err := daemon.Start(); err != nil {
			return fmt.Errorf("gateway daemon error: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "gateway.yaml", "path to configuration file")
}
