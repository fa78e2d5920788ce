package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"project_wainbox/internal/config"
	"project_wainbox/internal/infrastructure"
)

var rollbackSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply (or roll back) the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := cfg.NewLogger()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		pg, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL, cfg.DBMaxConns, log)
		if err != nil {
			return err
		}
		defer pg.Close()

		if rollbackSteps > 0 {
			if err := pg.Rollback(rollbackSteps); err != nil {
				return fmt.Errorf("rollback: %w", err)
			}
			log.Info("schema rolled back", slog.Int("steps", rollbackSteps))
			return nil
		}
		if err := pg.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("schema up to date")
		return nil
	},
}

func init() {
	migrateCmd.Flags().IntVar(&rollbackSteps, "rollback", 0, "Roll back this many migrations instead of applying")
	rootCmd.AddCommand(migrateCmd)
}
