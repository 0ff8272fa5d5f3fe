// Package backend opens the status store selected by configuration.
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/asyncbg/internal/config"
	"github.com/phrazzld/asyncbg/internal/platform/postgres"
	"github.com/phrazzld/asyncbg/internal/platform/redis"
	"github.com/phrazzld/asyncbg/internal/status"
	goredis "github.com/redis/go-redis/v9"
)

// Backend is an open status backend.
type Backend struct {
	// Store is always set
	Store status.Store

	// Subscriber is nil for backends without live notifications
	Subscriber status.Subscriber

	// Purger is set for backends that need expired records removed
	Purger *postgres.StatusStore

	redis *goredis.Client
	db    *sql.DB
}

// Open connects the backend named by cfg.Status.Backend. The postgres
// backend is migrated before use.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	hold := cfg.Status.ResponseHold()

	switch cfg.Status.Backend {
	case config.StatusBackendPostgres:
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect status database: %w", err)
		}

		if err := postgres.Migrate(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate status database: %w", err)
		}

		store := postgres.NewStatusStore(db, hold, logger)
		logger.Info("Status store initialized", "backend", config.StatusBackendPostgres)
		return &Backend{Store: store, Purger: store, db: db}, nil

	case config.StatusBackendRedis, "":
		client, err := redis.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect status redis: %w", err)
		}

		store := redis.NewStore(client, hold, logger)
		logger.Info("Status store initialized", "backend", config.StatusBackendRedis)
		return &Backend{Store: store, Subscriber: store, redis: client}, nil

	default:
		return nil, fmt.Errorf("unknown status backend %q", cfg.Status.Backend)
	}
}

// Close releases the backend connections.
func (b *Backend) Close() error {
	var errs []error
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis connection: %w", err))
		}
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
