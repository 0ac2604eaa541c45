// Package db persists region definitions in PostgreSQL or SQLite.
package db

import (
	"context"
	"fmt"

	"github.com/udisondev/regionsys/internal/config"
	"github.com/udisondev/regionsys/internal/regiondata"
)

// Store saves and restores the full set of region definitions.
type Store interface {
	// SaveAll replaces every stored region with doc.
	SaveAll(ctx context.Context, doc regiondata.Document) error
	// LoadAll returns the stored regions in ID order.
	LoadAll(ctx context.Context) (regiondata.Document, error)
	Close() error
}

// Open connects to the store selected by cfg.Driver and runs migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		if err := RunMigrations(ctx, cfg.DSN()); err != nil {
			return nil, err
		}
		return NewPostgresStore(ctx, cfg.DSN())
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Meta keys.
const (
	metaVersion  = "version"
	metaAreaRoot = "area_root"
	metaDigest   = "digest"
	metaSavedAt  = "saved_at"
)
