package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions sizes the outbound message store's connection pool. Zero
// MaxConns and durations fall back to the defaults below; MinConns is used
// as given.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

const (
	defaultMaxConns          = 10
	defaultMaxConnLifetime   = time.Hour
	defaultMaxConnIdleTime   = 30 * time.Minute
	defaultHealthCheckPeriod = time.Minute
)

// NewDBPool opens and pings a pgx pool for dsn.
func NewDBPool(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(dsn, opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func poolConfig(dsn string, opts PoolOptions) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgxpool config: %w", err)
	}

	cfg.MaxConns = orDefault(opts.MaxConns, defaultMaxConns)
	cfg.MinConns = max(opts.MinConns, 0)
	cfg.MaxConnLifetime = orDefault(opts.MaxConnLifetime, defaultMaxConnLifetime)
	cfg.MaxConnIdleTime = orDefault(opts.MaxConnIdleTime, defaultMaxConnIdleTime)
	cfg.HealthCheckPeriod = defaultHealthCheckPeriod

	if cfg.MinConns > cfg.MaxConns {
		return nil, fmt.Errorf("pool min conns %d exceeds max conns %d", cfg.MinConns, cfg.MaxConns)
	}
	return cfg, nil
}

func orDefault[T int32 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
