package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"

	"workflow-assistant/backend/internal/config"
	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/internal/repository"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type poolCloser struct{ pool *pgxpool.Pool }

func (c poolCloser) Close() error {
	c.pool.Close()
	return nil
}

// initDatabase opens the repository selected by db.driver.
func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, io.Closer, error) {
	logger.Debug("Initializing database connection", "driver", cfg.DB.Driver)

	switch cfg.DB.Driver {
	case "memory":
		logger.Warn("Using in-memory storage, state and reminders are lost on restart")
		return repository.NewMemoryStore(), nopCloser{}, nil

	case "sqlite":
		store, err := repository.NewSQLiteStore(ctx, cfg.DB.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil

	case "postgres":
		connStr := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
		)
		poolConfig, err := pgxpool.ParseConfig(connStr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse database config: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return repository.NewPostgresStore(pool), poolCloser{pool}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported db driver %q", cfg.DB.Driver)
	}
}

func runMigrateWith(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	repo, closer, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closer.Close()
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("Schema is up to date", "driver", cfg.DB.Driver)
	return nil
}
