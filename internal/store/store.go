// Package store is the idempotent bulk-write contract against the
// relational store (spec.md §4.6): three flat tables (blocks,
// transactions, logs), chunked UNNEST-based bulk upserts inside a single
// transaction per range, and a deliberate not-null-constraint violation
// used to surface reorgs as a distinguishable error instead of silently
// overwriting a block at a height whose hash changed.
package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool sized and tuned the way repo_core.go's
// Repository is (bounded pool, connection recycling, statement timeouts).
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dbURL, applying pool-size and timeout settings from the
// environment (spec.md §5: "bounded, ≈4-10 per worker").
func New(ctx context.Context, dbURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}

	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MinConns = int32(n)
		}
	}
	if config.MaxConns == 0 {
		config.MaxConns = 10
	}

	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	if config.ConnConfig.RuntimeParams == nil {
		config.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := config.ConnConfig.RuntimeParams["statement_timeout"]; !ok {
		config.ConnConfig.RuntimeParams["statement_timeout"] = envDefault("DB_STATEMENT_TIMEOUT", "300000")
	}
	if _, ok := config.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"]; !ok {
		config.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = envDefault("DB_IDLE_TX_TIMEOUT", "120000")
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	return &Store{pool: pool}, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
