package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// ModelStore is an in-memory implementation of storage.ModelStore.
type ModelStore struct {
	mu     sync.RWMutex
	data   map[int64]*domain.Model
	nextID int64
	now    func() time.Time
}

// NewModelStore creates a new in-memory model store.
func NewModelStore() *ModelStore {
	return &ModelStore{
		data:   make(map[int64]*domain.Model),
		nextID: 1,
		now:    time.Now,
	}
}

// cloneModel deep-copies a model so callers cannot mutate stored state
// through shared maps and slices.
func cloneModel(m *domain.Model) *domain.Model {
	cp := *m
	if m.Hyperparameters != nil {
		cp.Hyperparameters = make(domain.Hyperparameters, len(m.Hyperparameters))
		for k, v := range m.Hyperparameters {
			cp.Hyperparameters[k] = v
		}
	}
	cp.FeatureConfig.StaticFeatures = append([]string(nil), m.FeatureConfig.StaticFeatures...)
	cp.FeatureConfig.TimeVaryingFeatures = append([]string(nil), m.FeatureConfig.TimeVaryingFeatures...)
	cp.DatasetConfig.StockIDs = append([]int64(nil), m.DatasetConfig.StockIDs...)
	return &cp
}

// Insert adds a new model and assigns its ID. Returns ErrDuplicateKey if
// (name, version) exists.
func (s *ModelStore) Insert(_ context.Context, m *domain.Model) error {
	if m == nil || m.Name == "" || m.Version == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data {
		if existing.Name == m.Name && existing.Version == m.Version {
			return storage.ErrDuplicateKey
		}
	}

	m.ID = s.nextID
	s.nextID++
	now := s.now()
	m.CreatedAt = now
	m.UpdatedAt = now

	s.data[m.ID] = cloneModel(m)
	return nil
}

// GetByID retrieves a model by its ID. Returns ErrNotFound if not exists.
func (s *ModelStore) GetByID(_ context.Context, id int64) (*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneModel(m), nil
}

// GetByNameVersion retrieves a model by (name, version). Returns ErrNotFound if not exists.
func (s *ModelStore) GetByNameVersion(_ context.Context, name, version string) (*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.data {
		if m.Name == name && m.Version == version {
			return cloneModel(m), nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListByArchitecture retrieves all models for an architecture, newest first.
// A zero architectureID retrieves all models.
func (s *ModelStore) ListByArchitecture(_ context.Context, architectureID int64) ([]*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Model
	for _, m := range s.data {
		if architectureID == 0 || m.ArchitectureID == architectureID {
			result = append(result, cloneModel(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// UpdateStatus sets the lifecycle status. Returns ErrNotFound if not exists,
// ErrInvalidInput if the status is not a recognized lifecycle state.
func (s *ModelStore) UpdateStatus(_ context.Context, id int64, status domain.ModelStatus) error {
	if !status.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	m.Status = status
	m.UpdatedAt = s.now()
	return nil
}

// UpdateArtifactPath records where the trained artifact was persisted.
// Returns ErrNotFound if not exists.
func (s *ModelStore) UpdateArtifactPath(_ context.Context, id int64, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	m.ModelPath = path
	m.UpdatedAt = s.now()
	return nil
}

var _ storage.ModelStore = (*ModelStore)(nil)
