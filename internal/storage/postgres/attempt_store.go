// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/tierfetch/internal/crawler"
)

const defaultTable = "fetch_attempts"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// AttemptStoreConfig controls the Postgres connection pool used for attempt rows.
type AttemptStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// AttemptStore writes one row per provider call into Postgres.
type AttemptStore struct {
	pool  execCloser
	table string
}

// NewAttemptStore creates a Postgres-backed AttemptStore using the provided config.
func NewAttemptStore(ctx context.Context, cfg AttemptStoreConfig) (*AttemptStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AttemptStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewAttemptStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewAttemptStoreWithPool(pool execCloser, table string) (*AttemptStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &AttemptStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *AttemptStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the attempt table when it does not exist.
func (s *AttemptStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	url TEXT NOT NULL,
	tier TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	status_code INTEGER NOT NULL,
	error_kind TEXT NOT NULL,
	cost_credits INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	attempted_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create attempt table: %w", err)
	}
	return nil
}

// StoreAttempt inserts an attempt row into Postgres.
func (s *AttemptStore) StoreAttempt(ctx context.Context, record crawler.AttemptRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("attempt store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	request_id,
	url,
	tier,
	sequence,
	status_code,
	error_kind,
	cost_credits,
	duration_ms,
	attempted_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		record.ID,
		record.RequestID,
		record.URL,
		string(record.Tier),
		record.Sequence,
		record.StatusCode,
		string(record.ErrorKind),
		record.CostCredits,
		record.DurationMs,
		record.AttemptedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}
