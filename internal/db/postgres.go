package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/regionsys/internal/regiondata"
)

// PostgresStore keeps regions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and returns a store handle.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool. Close closes the pool.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Pool returns the underlying pgx pool.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// SaveAll replaces all regions in one transaction.
func (s *PostgresStore) SaveAll(ctx context.Context, doc regiondata.Document) error {
	rows, err := rowsOf(doc)
	if err != nil {
		return err
	}
	digest, err := regiondata.Digest(doc)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("rollback failed", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM regions`); err != nil {
		return fmt.Errorf("deleting old regions: %w", err)
	}

	// Вставляем регионы через COPY
	copyRows := make([][]any, 0, len(rows))
	for _, r := range rows {
		copyRows = append(copyRows, []any{r.ID, r.Name, r.Priority, r.Tags, r.Shape, r.POIs})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"regions"},
		[]string{"id", "name", "priority", "tags", "shape", "pois"},
		pgx.CopyFromRows(copyRows),
	); err != nil {
		return fmt.Errorf("inserting regions: %w", err)
	}

	batch := &pgx.Batch{}
	meta := map[string]string{
		metaVersion:  strconv.Itoa(doc.Version),
		metaAreaRoot: doc.AreaRoot,
		metaDigest:   digest,
		metaSavedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		batch.Queue(
			`INSERT INTO region_meta (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			k, v,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("saving region meta: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("regions saved", "driver", "postgres", "regions", len(rows), "digest", digest)
	return nil
}

// LoadAll returns all stored regions.
func (s *PostgresStore) LoadAll(ctx context.Context) (regiondata.Document, error) {
	doc := regiondata.Document{Version: regiondata.Version}

	if err := s.pool.QueryRow(ctx,
		`SELECT value FROM region_meta WHERE key = $1`, metaAreaRoot,
	).Scan(&doc.AreaRoot); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return doc, fmt.Errorf("querying area root: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, priority, tags, shape, pois
		FROM regions
		ORDER BY id
	`)
	if err != nil {
		return doc, fmt.Errorf("querying regions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r regionRow
		if err := rows.Scan(&r.ID, &r.Name, &r.Priority, &r.Tags, &r.Shape, &r.POIs); err != nil {
			return doc, fmt.Errorf("scanning region row: %w", err)
		}
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
