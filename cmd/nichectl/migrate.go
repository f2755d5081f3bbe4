package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"niche-backend/internal/shared/config"
	"niche-backend/internal/shared/storage/db"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Apply, roll back or inspect database migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{db.MigrateUp, db.MigrateDown, db.MigrateVersion},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		ctx := cmd.Context()
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		direction := db.MigrateUp
		if len(args) == 1 {
			direction = args[0]
		}
		version, err := db.Migrate(ctx, sqlDB, direction)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"direction": direction, "version": version})
	},
}
