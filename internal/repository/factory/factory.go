// Package factory opens the job store backend both binaries share, selected
// by configuration. It lives below repository because the interface package
// cannot import its own implementations.
package factory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/repolish/repolish/internal/config"
	"github.com/repolish/repolish/internal/repository"
	"github.com/repolish/repolish/internal/repository/postgres"
	"github.com/repolish/repolish/internal/repository/sqlite"
)

// OpenStore opens the job store selected by cfg.Driver and returns it
// together with a cleanup function.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (repository.JobStore, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Opened SQLite store", zap.String("path", cfg.SQLitePath))
		return store, func() { store.Close() }, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		store := postgres.NewStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres schema: %w", err)
		}
		logger.Info("Connected to PostgreSQL")
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
