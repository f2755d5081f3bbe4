package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsDir = "migrations"

// Migration directions accepted by Migrate.
const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateVersion = "version"
)

func prepareGoose() error {
	goose.SetBaseFS(migrationFiles)
	return goose.SetDialect("postgres")
}

// RunMigrations applies embedded SQL migrations via goose. A nil database is
// a no-op so in-memory dev runs can call it unconditionally.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	if database == nil {
		return nil
	}
	if err := prepareGoose(); err != nil {
		return err
	}
	return goose.UpContext(ctx, database, migrationsDir)
}

// RollbackLast reverts the most recent migration.
func RollbackLast(ctx context.Context, database *sql.DB) error {
	if database == nil {
		return nil
	}
	if err := prepareGoose(); err != nil {
		return err
	}
	return goose.DownContext(ctx, database, migrationsDir)
}

// Migrate runs direction and returns the schema version afterwards.
func Migrate(ctx context.Context, database *sql.DB, direction string) (int64, error) {
	var err error
	switch direction {
	case "", MigrateUp:
		err = RunMigrations(ctx, database)
	case MigrateDown:
		err = RollbackLast(ctx, database)
	case MigrateVersion:
		err = prepareGoose()
	default:
		return 0, fmt.Errorf("unknown migration direction %q", direction)
	}
	if err != nil || database == nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, database)
}
