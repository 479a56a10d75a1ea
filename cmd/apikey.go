package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"toolgate/internal/apikey"
	"toolgate/internal/config"
	"toolgate/internal/store"
	"toolgate/internal/store/postgres"
	"toolgate/pkg/logging"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Issue, list, and revoke API keys",
}

var apikeyIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a new API key",
	Long: `Issues a new API key for a principal, creating the principal on
first contact. The raw secret is printed exactly once; only its hash is
stored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
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
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			principal = store.Principal{
				ID:        uuid.New(),
				Email:     email,
				Name:      email,
				CreatedAt: time.Now(),
			}
			if err := db.CreatePrincipal(cmd.Context(), principal); err != nil {
				return fmt.Errorf("failed to create principal: %w", err)
			}
		}

		keys := apikey.New(db, db)
		rawSecret, cred, err := keys.Issue(cmd.Context(), principal.ID, name)
		if err != nil {
			return err
		}

		fmt.Printf("API key for %s (credential %s):\n\n  %s\n\nStore it now; it will not be shown again.\n", email, cred.ID, rawSecret)
		return nil
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a principal's API keys",
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

		creds, err := db.ListCredentialsByPrincipal(cmd.Context(), principal.ID)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "Name", "Prefix", "Last Used", "Created"})
		for _, c := range creds {
			lastUsed := "never"
			if c.LastUsedAt != nil {
				lastUsed = c.LastUsedAt.Format(time.RFC3339)
			}
			t.AppendRow(table.Row{c.ID, c.Name, c.KeyPrefix + "...", lastUsed, c.CreatedAt.Format(time.RFC3339)})
		}
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <credential-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		credentialID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid credential id %q: %w", args[0], err)
		}

		db, err := openAdminStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		keys := apikey.New(db, db)
		if err := keys.Revoke(cmd.Context(), credentialID); err != nil {
			return err
		}
		fmt.Printf("Revoked credential %s\n", credentialID)
		return nil
	},
}

// openAdminStore connects to the configured database. Admin commands
// act on persisted state and therefore require one.
func openAdminStore(ctx context.Context) (*postgres.Store, error) {
	logging.Init(logging.LevelWarn, os.Stderr)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("admin commands require a database (set %s or databaseDSN)", config.EnvDatabaseDSN)
	}

	db, err := postgres.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func init() {
	apikeyIssueCmd.Flags().String("email", "", "principal email")
	apikeyIssueCmd.Flags().String("name", "", "display name for the key")
	apikeyListCmd.Flags().String("email", "", "principal email")

	apikeyCmd.AddCommand(apikeyIssueCmd, apikeyListCmd, apikeyRevokeCmd)
	rootCmd.AddCommand(apikeyCmd)
}
