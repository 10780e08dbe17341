package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"rate-annualizer/internal/config"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// SnapshotStore defines operations for annualization history.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap RateSnapshot) error
	// LatestSnapshot returns the newest complete snapshot of key strictly before asOf.
	LatestSnapshot(ctx context.Context, key WatchKey, before time.Time) (RateSnapshot, bool, error)
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]RateSnapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]RateSnapshot, error)
	CountSnapshots(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is a full storage backend.
type Repository interface {
	SnapshotStore
	AlertStore
	Close()
}

// Open connects the backend selected by configuration. An empty DSN yields a nil
// repository and no error: persistence is optional.
func Open(ctx context.Context, cfg *config.Config) (Repository, error) {
	if cfg.Database.DSN == "" {
		return nil, nil
	}

	switch cfg.StoreDriver() {
	case "postgres":
		pool, err := NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		store := NewStore(pool)
		if cfg.Database.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil
	default:
		store, err := OpenSQLite(ctx, strings.TrimPrefix(cfg.Database.DSN, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
