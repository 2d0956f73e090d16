package core

import (
	"context"
	"fmt"

	"optimus/internal/infra/persistence/memory"
	"optimus/internal/infra/persistence/postgres"
	"optimus/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and parameterizes the store.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore opens the configured backend. An empty driver selects sqlite.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig, engine *RulesEngine, opts ...memory.Option) (PersistentStore, error) {
	switch cfg.Driver {
	case StorageMemory:
		return memory.NewStore(engine, opts...), nil
	case "", StorageSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath, engine, opts...)
	case StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN, engine, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
