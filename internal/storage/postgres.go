package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NSLS-II/sirepo-healthcheck/internal/status"
)

const schema = `
CREATE TABLE IF NOT EXISTS healthcheck_status (
    endpoint            TEXT PRIMARY KEY,
    up                  BOOLEAN NOT NULL,
    check_timestamp     TIMESTAMPTZ NOT NULL,
    last_seen_timestamp TIMESTAMPTZ,
    last_notified       TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS healthcheck_meta (
    id         SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    updated_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore keeps the snapshot in PostgreSQL, one row per endpoint.
// The meta row distinguishes "never saved" from "saved with no endpoints".
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects using connString and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases database resources.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

func (p *PostgresStore) Load(ctx context.Context) (status.Snapshot, error) {
	var updatedAt time.Time
	err := p.pool.QueryRow(ctx, `SELECT updated_at FROM healthcheck_meta WHERE id = 1`).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot meta: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
SELECT endpoint, up, check_timestamp, last_seen_timestamp, last_notified
  FROM healthcheck_status`)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	snap := make(status.Snapshot)
	for rows.Next() {
		var (
			id           string
			rec          status.Record
			lastSeen     *time.Time
			lastNotified *time.Time
		)
		if err := rows.Scan(&id, &rec.Up, &rec.CheckedAt, &lastSeen, &lastNotified); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		rec.LastSeen = lastSeen
		rec.LastNotified = lastNotified
		snap[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// Save replaces every row in one transaction.
func (p *PostgresStore) Save(ctx context.Context, snap status.Snapshot) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM healthcheck_status`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	batch := &pgx.Batch{}
	for _, id := range snap.Keys() {
		r := snap[id]
		batch.Queue(`
INSERT INTO healthcheck_status (endpoint, up, check_timestamp, last_seen_timestamp, last_notified)
VALUES ($1, $2, $3, $4, $5)`, id, r.Up, r.CheckedAt, r.LastSeen, r.LastNotified)
	}
	batch.Queue(`
INSERT INTO healthcheck_meta (id, updated_at) VALUES (1, now())
ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at`)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}
