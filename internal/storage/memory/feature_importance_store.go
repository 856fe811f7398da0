package memory

import (
	"context"
	"sort"
	"sync"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// FeatureImportanceStore is an in-memory implementation of storage.FeatureImportanceStore.
type FeatureImportanceStore struct {
	mu   sync.RWMutex
	data map[int64][]*domain.FeatureImportance // keyed by model_id
}

// NewFeatureImportanceStore creates a new in-memory feature importance store.
func NewFeatureImportanceStore() *FeatureImportanceStore {
	return &FeatureImportanceStore{
		data: make(map[int64][]*domain.FeatureImportance),
	}
}

// ReplaceAll atomically replaces a model's importance rows.
func (s *FeatureImportanceStore) ReplaceAll(_ context.Context, modelID int64, scores []*domain.FeatureImportance) error {
	if modelID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]*domain.FeatureImportance, 0, len(scores))
	for _, sc := range scores {
		if sc == nil || sc.FeatureName == "" {
			return storage.ErrInvalidInput
		}
		scoreCopy := *sc
		scoreCopy.ModelID = modelID
		rows = append(rows, &scoreCopy)
	}
	s.data[modelID] = rows
	return nil
}

// GetByModel retrieves a model's importance rows, highest score first.
func (s *FeatureImportanceStore) GetByModel(_ context.Context, modelID int64) ([]*domain.FeatureImportance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[modelID]
	result := make([]*domain.FeatureImportance, 0, len(rows))
	for _, sc := range rows {
		scoreCopy := *sc
		result = append(result, &scoreCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ImportanceScore != result[j].ImportanceScore {
			return result[i].ImportanceScore > result[j].ImportanceScore
		}
		return result[i].FeatureName < result[j].FeatureName
	})
	return result, nil
}

var _ storage.FeatureImportanceStore = (*FeatureImportanceStore)(nil)
