package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// TrainingHistoryStore is an in-memory implementation of storage.TrainingHistoryStore.
type TrainingHistoryStore struct {
	mu     sync.RWMutex
	data   map[int64]*domain.TrainingHistory
	nextID int64
}

// NewTrainingHistoryStore creates a new in-memory training history store.
func NewTrainingHistoryStore() *TrainingHistoryStore {
	return &TrainingHistoryStore{
		data:   make(map[int64]*domain.TrainingHistory),
		nextID: 1,
	}
}

func cloneHistory(h *domain.TrainingHistory) *domain.TrainingHistory {
	cp := *h
	if h.EndTime != nil {
		end := *h.EndTime
		cp.EndTime = &end
	}
	if h.Metrics != nil {
		cp.Metrics = make(map[string]float64, len(h.Metrics))
		for k, v := range h.Metrics {
			cp.Metrics[k] = v
		}
	}
	return &cp
}

// Insert adds a new run with status running and assigns its ID.
func (s *TrainingHistoryStore) Insert(_ context.Context, h *domain.TrainingHistory) error {
	if h == nil || h.ModelID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h.ID = s.nextID
	s.nextID++
	h.Status = domain.TrainingRunning
	h.EndTime = nil

	s.data[h.ID] = cloneHistory(h)
	return nil
}

// Complete finalizes a run with its end time, terminal status, metrics and
// optional error message. Returns ErrNotFound if not exists.
func (s *TrainingHistoryStore) Complete(_ context.Context, id int64, endTime time.Time, status domain.TrainingStatus, metrics map[string]float64, errorMessage string) error {
	if status != domain.TrainingCompleted && status != domain.TrainingFailed {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}

	end := endTime
	h.EndTime = &end
	h.Status = status
	h.ErrorMessage = errorMessage
	h.Metrics = nil
	if metrics != nil {
		h.Metrics = make(map[string]float64, len(metrics))
		for k, v := range metrics {
			h.Metrics[k] = v
		}
	}
	return nil
}

// ListByModel retrieves all runs for a model, newest first.
func (s *TrainingHistoryStore) ListByModel(_ context.Context, modelID int64) ([]*domain.TrainingHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TrainingHistory
	for _, h := range s.data {
		if h.ModelID == modelID {
			result = append(result, cloneHistory(h))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.After(result[j].StartTime)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

var _ storage.TrainingHistoryStore = (*TrainingHistoryStore)(nil)
