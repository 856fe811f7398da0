package memory

import (
	"context"
	"sort"
	"sync"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// ArchitectureStore is an in-memory implementation of storage.ArchitectureStore.
type ArchitectureStore struct {
	mu     sync.RWMutex
	data   map[int64]*domain.ModelArchitecture
	nextID int64
}

// NewArchitectureStore creates a new in-memory architecture store.
func NewArchitectureStore() *ArchitectureStore {
	return &ArchitectureStore{
		data:   make(map[int64]*domain.ModelArchitecture),
		nextID: 1,
	}
}

// Insert adds a new architecture. Returns ErrDuplicateKey if name exists.
func (s *ArchitectureStore) Insert(_ context.Context, a *domain.ModelArchitecture) error {
	if a == nil || a.Name == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data {
		if existing.Name == a.Name {
			return storage.ErrDuplicateKey
		}
	}

	a.ID = s.nextID
	s.nextID++

	archCopy := *a
	s.data[a.ID] = &archCopy
	return nil
}

// GetByName retrieves an architecture by name. Returns ErrNotFound if not exists.
func (s *ArchitectureStore) GetByName(_ context.Context, name string) (*domain.ModelArchitecture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.data {
		if a.Name == name {
			archCopy := *a
			return &archCopy, nil
		}
	}
	return nil, storage.ErrNotFound
}

// List retrieves all architectures, ordered by ID ASC.
func (s *ArchitectureStore) List(_ context.Context) ([]*domain.ModelArchitecture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.ModelArchitecture, 0, len(s.data))
	for _, a := range s.data {
		archCopy := *a
		result = append(result, &archCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ storage.ArchitectureStore = (*ArchitectureStore)(nil)
