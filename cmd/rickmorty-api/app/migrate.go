package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/darianhuotari/rickmorty-sre-demo/database"
	"github.com/darianhuotari/rickmorty-sre-demo/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all pending database migrations to bring the schema up to date.
Connection parameters come from RMAPI_DB_* environment variables.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runMigration(database.MigrateUp, "Applying database migrations...")
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all database migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runMigration(database.MigrateDown, "Rolling back database migrations...")
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func runMigration(fn func(string) error, msg string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database == nil {
		return fmt.Errorf("database configuration is required: set RMAPI_DB_HOST")
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return fmt.Errorf("failed to get connection string: %w", err)
	}

	slog.Info(msg, "host", cfg.Database.Host, "database", cfg.Database.Database)
	if err := fn(connString); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.GetVersion(connString)
	switch {
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state", "version", version)
	default:
		slog.Info("Migrations complete", "version", version)
	}

	return nil
}
