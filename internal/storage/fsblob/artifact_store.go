// Package fsblob stores model artifacts as files under a root directory.
// Keys are slash-separated relative paths.
package fsblob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"stock-prediction-lab/internal/storage"
)

// ArtifactStore implements storage.ArtifactStore on the local filesystem.
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates a store rooted at dir, creating it if needed.
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &ArtifactStore{root: dir}, nil
}

// Compile-time interface check.
var _ storage.ArtifactStore = (*ArtifactStore)(nil)

// Put persists an artifact blob under key, overwriting any existing blob.
// The write goes through a temp file and rename so readers never observe a
// partial artifact.
func (s *ArtifactStore) Put(_ context.Context, key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("finalize artifact: %w", err)
	}
	return nil
}

// Get retrieves the blob stored under key. Returns ErrNotFound if not exists.
func (s *ArtifactStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// resolve maps a key to a path under root, rejecting traversal outside it.
func (s *ArtifactStore) resolve(key string) (string, error) {
	if key == "" {
		return "", storage.ErrInvalidInput
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", storage.ErrInvalidInput
	}
	return filepath.Join(s.root, clean), nil
}
