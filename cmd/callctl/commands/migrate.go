package commands

import (
	"fmt"

	"freight_ops_backend/platform/db"

	"github.com/spf13/cobra"
)

var migrateStatus bool

// NewMigrateCmd creates the migrate command.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply the embedded SQL migrations to DATABASE_URL.

Examples:
  callctl migrate
  callctl migrate --status`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}

	cmd.Flags().BoolVar(&migrateStatus, "status", false, "Print the current schema version without migrating")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.Close()

	if !migrateStatus {
		if err := db.RunMigrations(ctx, e.pool); err != nil {
			return err
		}
	}

	version, err := db.MigrationVersion(ctx, e.pool)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", version)
	return nil
}
