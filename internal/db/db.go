package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/updateagent/internal/config"
)

// PoolConfig builds the pgxpool settings for cfg: the database URL plus the
// pool sizing and connection lifetime from the UPDATEAGENT_DB_* keys.
func PoolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
	}
	if cfg.DBMinConns > 0 && int32(cfg.DBMinConns) <= poolConfig.MaxConns {
		poolConfig.MinConns = int32(cfg.DBMinConns)
	}
	if cfg.DBMaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.DBMaxConnLifetime
		// Idle connections are recycled well before they reach their lifetime.
		poolConfig.MaxConnIdleTime = cfg.DBMaxConnLifetime / 2
	}
	poolConfig.HealthCheckPeriod = time.Minute

	return poolConfig, nil
}

// NewConnection opens the pool described by cfg and checks it with a ping.
func NewConnection(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database at %s:%s: %w", cfg.DBHost, cfg.DBPort, err)
	}

	return pool, nil
}

// CloseConnection closes pool. A nil pool is ignored.
func CloseConnection(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
