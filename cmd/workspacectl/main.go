// Command workspacectl runs maintenance tasks against a pagespace database:
// schema migrations, search reindexing and SIEM destination checks.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pagespace/internal/config"
	"pagespace/internal/store"
)

var (
	cfg     = config.Load()
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "workspacectl",
	Short:         "Maintenance commands for the pagespace API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection string")
	rootCmd.PersistentFlags().StringVar(&cfg.MigrationsDir, "migrations-dir", cfg.MigrationsDir, "directory holding *.up.sql files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	migrateCmd.AddCommand(migrateStatusCmd)
	siemCmd.AddCommand(siemTestCmd)
	rootCmd.AddCommand(migrateCmd, reindexCmd, siemCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	build := zap.NewProductionConfig()
	if verbose {
		build = zap.NewDevelopmentConfig()
	}
	build.OutputPaths = []string{"stderr"}
	logger, err := build.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openDB(ctx context.Context) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	return store.Open(ctx, cfg.DatabaseURL)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := store.ApplyMigrationsReport(cmd.Context(), db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		}
		for _, version := range applied {
			fmt.Fprintln(cmd.OutOrStdout(), "applied", version)
		}
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they have run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		states, err := store.MigrationStatus(cmd.Context(), db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		for _, s := range states {
			mark := "pending"
			if s.Applied {
				mark = "applied"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", mark, s.Version)
		}
		return nil
	},
}
