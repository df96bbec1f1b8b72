// Package db is the PostgreSQL store. Each record is kept whole in a JSONB
// column next to the plain columns the queries filter and sort on.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "farm-automation/internal/errors"
	"farm-automation/internal/store"
)

type DB struct {
	Pool *pgxpool.Pool
}

var _ store.Store = (*DB)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close(ctx context.Context) error {
	d.Pool.Close()
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS thresholds (
		id          TEXT PRIMARY KEY,
		sensor_type TEXT NOT NULL,
		farm_id     TEXT NOT NULL DEFAULT '',
		zone_id     TEXT NOT NULL DEFAULT '',
		is_active   BOOLEAN NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		doc         JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS thresholds_lookup_idx ON thresholds (sensor_type, is_active)`,
	`CREATE TABLE IF NOT EXISTS automation_tasks (
		id             TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL DEFAULT '',
		alert_id       TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		attempts       INTEGER NOT NULL DEFAULT 0,
		scheduled_at   TIMESTAMPTZ NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		doc            JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS automation_tasks_due_idx ON automation_tasks (status, scheduled_at)`,
	`CREATE INDEX IF NOT EXISTS automation_tasks_correlation_idx ON automation_tasks (correlation_id)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		severity    TEXT NOT NULL,
		status      TEXT NOT NULL,
		farm_id     TEXT NOT NULL DEFAULT '',
		zone_id     TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ,
		doc         JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS alerts_status_idx ON alerts (status, severity, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS alerts_created_idx ON alerts (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS alerts_resolved_idx ON alerts (resolved_at) WHERE status = 'resolved'`,
}

// Migrate creates the tables and indexes if they do not exist.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// withTx runs fn in a transaction and commits when fn returns nil.
func (d *DB) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return dbError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return dbError("commit transaction", err)
	}
	return nil
}

func dbError(op string, err error) error {
	return apperrors.NewDatabaseError(fmt.Sprintf("failed to %s", op), err)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
