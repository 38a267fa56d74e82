package backend

import (
	"context"
	"fmt"
	"log/slog"

	"usageprep/internal/config"
	"usageprep/internal/storage"
	"usageprep/internal/storage/postgres"
	"usageprep/internal/storage/sqlite"
)

// Open builds and initializes the configured store. It returns nil when
// storage is disabled.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Storage, error) {
	var store storage.Storage
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		store = sqlite.NewSQLiteStore(cfg.Path, logger)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("storage.dsn is required for the postgres driver")
		}
		store = postgres.NewStore(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("invalid storage driver %q", cfg.Driver)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Driver, err)
	}
	return store, nil
}
