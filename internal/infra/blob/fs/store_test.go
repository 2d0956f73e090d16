package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"optimus/internal/blob/core"
)

func TestFilesystemStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "blobs")
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Driver() != core.DriverFilesystem || s.Root() != root {
		t.Fatalf("unexpected store identity")
	}
	info, err := s.Put(ctx, "state/notifications.json", strings.NewReader(`[{"id":"a"}]`), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 12 || len(info.ETag) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "state/notifications.json", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected exists, got %v", err)
	}
	got, rc, err := s.Get(ctx, "state/notifications.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `[{"id":"a"}]` || got.ContentType != "application/json" {
		t.Fatalf("unexpected get %q %+v", body, got)
	}
	if ok, err := s.Delete(ctx, "state/notifications.json"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(root, "state", "notifications.json.meta")); !os.IsNotExist(err) {
		t.Fatalf("sidecar should be removed")
	}
	if ok, err := s.Delete(ctx, "state/notifications.json"); err != nil || ok {
		t.Fatalf("delete missing: %v %v", ok, err)
	}
	if _, _, err := s.Get(ctx, "state/notifications.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFilesystemRejectsUnsafeKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "  ", "../escape", "/abs"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected rejection for %q", key)
		}
		if _, err := s.Delete(context.Background(), key); err == nil {
			t.Fatalf("expected delete rejection for %q", key)
		}
	}
}

func TestFilesystemCorruptMeta(t *testing.T) {
	root := t.TempDir()
	s, _ := New(root)
	if _, err := s.Put(context.Background(), "k", strings.NewReader("v"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "k.meta"), []byte("{"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := s.Get(context.Background(), "k"); err == nil || !strings.Contains(err.Error(), "decode meta") {
		t.Fatalf("expected meta decode error, got %v", err)
	}
}
