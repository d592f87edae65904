package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bidflow/internal/config"
	"bidflow/internal/infra/persistence/memory"
	"bidflow/internal/infra/persistence/postgres"
	"bidflow/internal/infra/persistence/sqlite"
	"bidflow/internal/infra/persistence/sqlstore"
	"bidflow/pkg/domain"
)

// Storage drivers accepted by OpenStore.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// OpenStore builds the record store selected by cfg. The returned close
// function releases the backing database and is never nil.
func OpenStore(ctx context.Context, cfg config.StorageConfig, engine *domain.RulesEngine, logger *zap.Logger) (domain.PersistentStore, func() error, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() error { return nil }
	switch cfg.Driver {
	case "", StorageMemory:
		return memory.NewStore(engine), noop, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine, sqlstore.WithLogger(logger))
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("record store opened", zap.String("driver", StorageSQLite), zap.String("path", store.Path()))
		return store, store.Close, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine, sqlstore.WithLogger(logger))
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres store: %w", err)
		}
		logger.Info("record store opened", zap.String("driver", StoragePostgres))
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
