package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Tool-call gateway for generated integration servers",
	Long: `toolgate authenticates API-key requests, routes namespaced tool
calls to the right integration handler, keeps OAuth credentials fresh,
and records usage for every call.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersion sets the version string reported by the version command.
// Called from main with the build-time injected value.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "toolgate.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}
