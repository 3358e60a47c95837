// Package postgres is the relational store: connection pool, embedded
// migrations, dimension upserts, fact batches, pipeline run audit, the agent
// SQL executor, durable agent checkpoints and the dashboard reads.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dvloznov/finance-analyst/internal/config"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

const defaultPingTimeout = 5 * time.Second

// Open connects to PostgreSQL, applies the pool settings from cfg and verifies
// the connection with a bounded ping.
func Open(ctx context.Context, cfg *config.PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("Open: opening connection: %w", err)
	}

	ApplyConnectionSettings(db.DB, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime)

	if err := PingWithTimeout(ctx, db.DB, defaultPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: ping: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Database).
		Int("max_open_conns", cfg.MaxOpenConns).
		Msg("Connected to PostgreSQL")

	return db, nil
}

// ApplyConnectionSettings configures database connection pool settings.
// Zero values leave the driver default in place.
func ApplyConnectionSettings(db *sql.DB, maxOpen, maxIdle int, maxLifetime, maxIdleTime time.Duration) {
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		db.SetConnMaxLifetime(maxLifetime)
	}
	if maxIdleTime > 0 {
		db.SetConnMaxIdleTime(maxIdleTime)
	}
}

// PingWithTimeout pings the database, giving up after timeout.
func PingWithTimeout(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if pingCtx.Err() != nil {
			return fmt.Errorf("ping timed out after %v: %w", timeout, pingCtx.Err())
		}
		return err
	}
	return nil
}

// ConnStats is a snapshot of the pool counters.
type ConnStats struct {
	OpenConnections int
	InUse           int
	Idle            int
	MaxOpenConns    int
	WaitCount       int64
	WaitDuration    time.Duration
}

// GetConnectionStats returns connection pool statistics for logging.
func GetConnectionStats(db *sql.DB) ConnStats {
	stats := db.Stats()
	return ConnStats{
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		MaxOpenConns:    stats.MaxOpenConnections,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration,
	}
}

// LogConnectionStats logs connection pool statistics at debug level.
func LogConnectionStats(log zerolog.Logger, db *sql.DB) {
	stats := GetConnectionStats(db)
	log.Debug().
		Int("open_connections", stats.OpenConnections).
		Int("in_use", stats.InUse).
		Int("idle", stats.Idle).
		Int("max_open", stats.MaxOpenConns).
		Int64("wait_count", stats.WaitCount).
		Dur("wait_duration", stats.WaitDuration).
		Msg("Connection pool stats")
}

// KeepAlive pings the pool every interval until ctx is done, so a broken
// server connection shows up in the logs before a request trips over it.
func KeepAlive(ctx context.Context, db *sql.DB, interval time.Duration) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := PingWithTimeout(ctx, db, defaultPingTimeout); err != nil {
				log.Warn().Err(err).Msg("KeepAlive: database ping failed")
				continue
			}
			LogConnectionStats(log, db)
		}
	}
}
