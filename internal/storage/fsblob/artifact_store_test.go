package fsblob

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"stock-prediction-lab/internal/storage"
)

func newTestStore(t *testing.T) *ArtifactStore {
	t.Helper()
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore failed: %v", err)
	}
	return store
}

func TestArtifactStore_PutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blob := []byte("serialized model state")
	if err := store.Put(ctx, "model.bin", blob); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "model.bin")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Errorf("round trip corrupted blob: %q", got)
	}
}

func TestArtifactStore_NestedKeyCreatesDirectories(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := "LSTM/spy-lstm/v2/20240601120000.bin"
	if err := store.Put(ctx, key, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := store.Get(ctx, key); err != nil {
		t.Errorf("Get of nested key failed: %v", err)
	}
}

func TestArtifactStore_Overwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "k.bin", []byte("old")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "k.bin", []byte("new")); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	got, err := store.Get(ctx, "k.bin")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("expected overwritten blob, got %q", got)
	}
}

func TestArtifactStore_MissingKey(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "absent.bin"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestArtifactStore_RejectsUnsafeKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape.bin", "a/../../escape.bin", "/etc/passwd"} {
		if err := store.Put(ctx, key, []byte("x")); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("Put(%q): expected ErrInvalidInput, got %v", key, err)
		}
		if _, err := store.Get(ctx, key); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("Get(%q): expected ErrInvalidInput, got %v", key, err)
		}
	}
}

func TestArtifactStore_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store, err := NewArtifactStore(dir)
	if err != nil {
		t.Fatalf("NewArtifactStore failed: %v", err)
	}
	if err := store.Put(context.Background(), "m.bin", []byte("data")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "m.bin" {
			t.Errorf("unexpected file left in root: %s", filepath.Join(dir, e.Name()))
		}
	}
}
