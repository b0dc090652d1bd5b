// Package db opens the PostgreSQL pool and watches its connectivity.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"techpulse/internal/pkg/config"
)

// ErrNotConfigured is returned when no database URL is configured.
var ErrNotConfigured = errors.New("database not configured")

// ConnectionConfig holds database connection pool configuration.
type ConnectionConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// DefaultConnectionConfig returns the default connection pool configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxOpenConns:    10,               // Maximum number of open connections
		MaxIdleConns:    5,                // Maximum number of idle connections
		ConnMaxLifetime: 1 * time.Hour,    // Maximum lifetime of a connection
		ConnMaxIdleTime: 30 * time.Minute, // Maximum idle time of a connection
		PingTimeout:     5 * time.Second,
	}
}

// ConnectionConfigFromEnv reads pool settings from DB_* variables, falling
// back to defaults for unset or invalid values.
func ConnectionConfigFromEnv() ConnectionConfig {
	cfg := DefaultConnectionConfig()
	positive := func(v int) error { return config.ValidateIntRange(v, 1, 1000) }

	cfg.MaxOpenConns = logFallback(config.LoadEnvInt("DB_MAX_OPEN_CONNS", cfg.MaxOpenConns, positive))
	cfg.MaxIdleConns = logFallback(config.LoadEnvInt("DB_MAX_IDLE_CONNS", cfg.MaxIdleConns, positive))
	cfg.ConnMaxLifetime = logFallback(config.LoadEnvDuration("DB_CONN_MAX_LIFETIME", cfg.ConnMaxLifetime, config.ValidatePositiveDuration))
	cfg.ConnMaxIdleTime = logFallback(config.LoadEnvDuration("DB_CONN_MAX_IDLE_TIME", cfg.ConnMaxIdleTime, config.ValidatePositiveDuration))
	cfg.PingTimeout = logFallback(config.LoadEnvDuration("DB_PING_TIMEOUT", cfg.PingTimeout, config.ValidatePositiveDuration))
	return cfg
}

func logFallback[T any](res config.LoadResult[T]) T {
	for _, w := range res.Warnings {
		slog.Warn("database configuration fallback", slog.String("warning", w))
	}
	return res.Value
}

// Open creates the pool for dsn, applies cfg and verifies connectivity.
// The pool is returned even when the first ping fails so the supervisor can
// take over reconnection; the ping error is returned alongside it.
func Open(ctx context.Context, dsn string, cfg ConnectionConfig) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrNotConfigured
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	slog.Info("database connection pool configured",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns),
		slog.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		slog.Duration("conn_max_idle_time", cfg.ConnMaxIdleTime))

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return db, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("database connection established successfully")
	return db, nil
}
