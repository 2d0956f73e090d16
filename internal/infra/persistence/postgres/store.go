// Package postgres provides a Postgres-backed society store that mirrors the
// in-memory semantics while applying the schema DDL on startup.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"optimus/internal/infra/persistence/memory"
	"optimus/internal/infra/persistence/relational"
	"optimus/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/optimus?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists norms and cases to Postgres.
type Store struct {
	*relational.Store
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	rs, err := relational.Open(ctx, db, relational.Postgres, engine, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: rs}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
