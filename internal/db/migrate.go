package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/udisondev/regionsys/internal/config"
	"github.com/udisondev/regionsys/internal/db/migrations"
)

// goose keeps dialect and base FS in package globals.
var gooseMu sync.Mutex

// RunMigrations runs goose migrations on the given PostgreSQL DSN.
func RunMigrations(ctx context.Context, dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening sql connection for migrations: %w", err)
	}
	defer sqlDB.Close()

	return migrate(ctx, sqlDB, config.DriverPostgres)
}

// migrate applies the embedded migrations of one driver to an open database.
func migrate(ctx context.Context, sqlDB *sql.DB, driver string) error {
	dialect, dir := "postgres", "postgres"
	if driver == config.DriverSQLite {
		dialect, dir = "sqlite3", "sqlite"
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, dir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
