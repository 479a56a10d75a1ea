package cmd

import (
	"errors"
	"fmt"
	"os"

	"toolgate/internal/store"
	"toolgate/internal/usage"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show a principal's usage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			return fmt.Errorf("--email is required")
		}

		db, err := openAdminStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		principal, err := db.GetPrincipalByEmail(cmd.Context(), email)
		if err != nil {
			return fmt.Errorf("unknown principal %s: %w", email, err)
		}

		recorder := usage.NewRecorder(db)
		stats, err := recorder.StatsFor(cmd.Context(), principal.ID)
		if err != nil {
			return err
		}

		fmt.Printf("Usage for %s: %d calls (%d ok, %d failed), avg latency %.1fms\n\n",
			email, stats.TotalCalls, stats.SuccessCount, stats.ErrorCount, stats.AvgLatencyMs)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Integration", "Calls", "OK", "Failed", "Avg Latency (ms)"})
		for id, s := range stats.ByIntegration {
			label := id.String()
			integration, err := db.GetIntegration(cmd.Context(), id)
			if err == nil {
				label = integration.Slug
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			t.AppendRow(table.Row{label, s.Calls, s.SuccessCount, s.ErrorCount, fmt.Sprintf("%.1f", s.AvgLatencyMs)})
		}
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	},
}

func init() {
	statsCmd.Flags().String("email", "", "principal email")
	rootCmd.AddCommand(statsCmd)
}
