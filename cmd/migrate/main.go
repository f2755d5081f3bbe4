package main

// Apply migrations:
//   go run ./cmd/migrate
// Roll back the most recent one, or print the schema version:
//   go run ./cmd/migrate down
//   go run ./cmd/migrate version

import (
	"context"
	"os"

	"niche-backend/internal/shared/config"
	"niche-backend/internal/shared/storage/db"
	"niche-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	direction := db.MigrateUp
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer sqlDB.Close()

	version, err := db.Migrate(ctx, sqlDB, direction)
	if err != nil {
		telemetry.Error("migrate.failed", map[string]any{"direction": direction, "error": err.Error()})
		sqlDB.Close()
		os.Exit(1)
	}
	telemetry.Info("migrate.done", map[string]any{"direction": direction, "version": version})
}
