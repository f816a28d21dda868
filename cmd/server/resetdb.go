package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voicecollect/internal/database"
	"voicecollect/pkg/logger"
)

var resetDBCmd = &cobra.Command{
	Use:   "reset-db",
	Short: "Drop all tables and re-run migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if cfg.Postgres.DSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required")
		}

		logger.Info("Resetting database...")
		if err := database.ResetMigrations(cfg.Postgres.DSN, cfg.Postgres.MigrationsPath); err != nil {
			return fmt.Errorf("failed to reset database: %w", err)
		}
		logger.Info("Database reset completed successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetDBCmd)
}
