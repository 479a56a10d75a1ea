package cmd

import (
	"os"

	"toolgate/internal/app"
	"toolgate/internal/config"
	"toolgate/pkg/logging"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway HTTP server",
	Long: `Starts the gateway: loads the configuration, connects persistence
(Postgres when a DSN is configured, otherwise in-memory stores with a
watched integration catalog directory), and serves the tool-call API
until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := logging.LevelInfo
		if debug {
			level = logging.LevelDebug
		}
		logging.Init(level, os.Stderr)

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		return app.Run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
