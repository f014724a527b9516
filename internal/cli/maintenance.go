package cli

import (
	"fmt"
	"time"

	"github.com/onir-world/legal-chat-backend/internal/database"
	"github.com/onir-world/legal-chat-backend/internal/logging"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and seed default feature flags",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := database.Migrate(a.db); err != nil {
				return err
			}
			if err := a.flags.SeedDefaults(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}

func newLogsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Manage stored error logs",
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete error logs older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			deleted := logging.PurgeOlderThan(a.db.WithContext(cmd.Context()), time.Now().Add(-olderThan))
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d log rows\n", deleted)
			return nil
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", logging.DefaultRetention, "age of the oldest row to keep")

	cmd.AddCommand(purge)
	return cmd
}
