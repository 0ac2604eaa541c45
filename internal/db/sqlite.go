package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/udisondev/regionsys/internal/config"
	"github.com/udisondev/regionsys/internal/regiondata"
)

// SQLiteStore keeps regions in a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
// ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty sqlite path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// Один writer: SQLite сериализует запись.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := initPragmas(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := migrate(ctx, sqlDB, config.DriverSQLite); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &SQLiteStore{db: sqlDB}, nil
}

func initPragmas(ctx context.Context, sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("applying %q: %w", p, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveAll replaces all regions in one transaction.
func (s *SQLiteStore) SaveAll(ctx context.Context, doc regiondata.Document) error {
	rows, err := rowsOf(doc)
	if err != nil {
		return err
	}
	digest, err := regiondata.Digest(doc)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("rollback failed", "error", err)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM regions`); err != nil {
		return fmt.Errorf("deleting old regions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO regions (id, name, priority, tags, shape, pois) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing region insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		tags, err := json.Marshal(r.Tags)
		if err != nil {
			return fmt.Errorf("encoding tags of region %d: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Name, r.Priority, string(tags), string(r.Shape), string(r.POIs)); err != nil {
			return fmt.Errorf("inserting region %d: %w", r.ID, err)
		}
	}

	meta := map[string]string{
		metaVersion:  strconv.Itoa(doc.Version),
		metaAreaRoot: doc.AreaRoot,
		metaDigest:   digest,
		metaSavedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO region_meta (key, value) VALUES (?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
			k, v,
		); err != nil {
			return fmt.Errorf("saving region meta %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("regions saved", "driver", "sqlite", "regions", len(rows), "digest", digest)
	return nil
}

// LoadAll returns all stored regions.
func (s *SQLiteStore) LoadAll(ctx context.Context) (regiondata.Document, error) {
	doc := regiondata.Document{Version: regiondata.Version}

	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM region_meta WHERE key = ?`, metaAreaRoot,
	).Scan(&doc.AreaRoot)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return doc, fmt.Errorf("querying area root: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, priority, tags, shape, pois
		FROM regions
		ORDER BY id
	`)
	if err != nil {
		return doc, fmt.Errorf("querying regions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                 regionRow
			tags, shape, pois string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Priority, &tags, &shape, &pois); err != nil {
			return doc, fmt.Errorf("scanning region row: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return doc, fmt.Errorf("decoding tags of region %d: %w", r.ID, err)
		}
		r.Shape, r.POIs = []byte(shape), []byte(pois)
		dto, err := r.dto()
		if err != nil {
			return doc, err
		}
		doc.Regions = append(doc.Regions, dto)
	}
	if err := rows.Err(); err != nil {
		return doc, fmt.Errorf("iterating region rows: %w", err)
	}
	return doc, nil
}
