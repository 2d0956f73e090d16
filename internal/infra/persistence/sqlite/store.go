// Package sqlite provides the SQLite-backed society store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"optimus/internal/infra/persistence/memory"
	"optimus/internal/infra/persistence/relational"
	"optimus/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const defaultPath = "data/optimus.db"

// Store persists norms and cases to a SQLite file.
type Store struct {
	*relational.Store
	path string
}

// NewStore opens (or creates) the SQLite database at path and hydrates the
// in-memory state from it.
func NewStore(ctx context.Context, path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	rs, err := relational.Open(ctx, db, relational.SQLite, engine, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: rs, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
