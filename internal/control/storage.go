package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/offlinesync/internal/core/config"
	"github.com/vietddude/offlinesync/internal/health"
	redisclient "github.com/vietddude/offlinesync/internal/infra/redis"
	"github.com/vietddude/offlinesync/internal/infra/storage"
	"github.com/vietddude/offlinesync/internal/infra/storage/memory"
	"github.com/vietddude/offlinesync/internal/infra/storage/postgres"
	"github.com/vietddude/offlinesync/internal/infra/storage/sqlite"
)

// Store is the queue store selected by configuration, plus whatever it needs
// to be checked and released.
type Store struct {
	storage.QueueStore

	Driver string

	// Health is nil for the in-memory driver.
	Health health.Checker

	db      *postgres.DB
	closers []storage.Closer
}

// OpenStore initializes the configured storage driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	s := &Store{Driver: cfg.Driver}

	switch cfg.Driver {
	case config.DriverMemory, "":
		s.QueueStore = memory.NewQueueStore()
		slog.Info("Using Memory storage")

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		s.QueueStore = store
		s.Health = store
		s.closers = append(s.closers, store)
		slog.Info("Using SQLite storage", "path", cfg.SQLite.Path)

	case config.DriverPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		s.QueueStore = postgres.NewQueueRepo(db, cfg.Namespace)
		s.Health = db
		s.db = db
		s.closers = append(s.closers, db)
		slog.Info("Using PostgreSQL storage", "namespace", cfg.Namespace)

	case config.DriverRedis:
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.QueueStore = redisclient.NewQueueStore(client, cfg.Namespace)
		s.Health = client
		s.closers = append(s.closers, client)
		slog.Info("Using Redis storage", "namespace", cfg.Namespace)

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	return s, nil
}

// Checkers returns the store's health checks keyed by name.
func (s *Store) Checkers() map[string]health.Checker {
	if s.Health == nil {
		return nil
	}
	return map[string]health.Checker{"storage." + s.Driver: s.Health}
}

// Close releases every resource held by the store.
func (s *Store) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
