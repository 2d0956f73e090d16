package core

import (
	"context"
	"path/filepath"
	"testing"

	"optimus/internal/infra/persistence/memory"
)

func TestOpenPersistentStoreDrivers(t *testing.T) {
	ctx := context.Background()

	store, err := OpenPersistentStore(ctx, StorageConfig{Driver: StorageMemory}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	path := filepath.Join(t.TempDir(), "optimus.db")
	store, err = OpenPersistentStore(ctx, StorageConfig{SQLitePath: path}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateNorm(Norm{Text: "Law 1", Valid: true, Complexity: 2})
		return err
	}); err != nil {
		t.Fatalf("write through sqlite: %v", err)
	}

	if _, err := OpenPersistentStore(ctx, StorageConfig{Driver: "mongo"}, nil); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
