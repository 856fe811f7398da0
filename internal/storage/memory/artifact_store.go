package memory

import (
	"context"
	"sync"

	"stock-prediction-lab/internal/storage"
)

// ArtifactStore is an in-memory implementation of storage.ArtifactStore.
type ArtifactStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewArtifactStore creates a new in-memory artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		data: make(map[string][]byte),
	}
}

// Put persists an artifact blob under key, overwriting any existing blob.
func (s *ArtifactStore) Put(_ context.Context, key string, data []byte) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob := make([]byte, len(data))
	copy(blob, data)
	s.data[key] = blob
	return nil
}

// Get retrieves the blob stored under key. Returns ErrNotFound if not exists.
func (s *ArtifactStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, exists := s.data[key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

var _ storage.ArtifactStore = (*ArtifactStore)(nil)
