package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// PredictionStore is an in-memory implementation of storage.PredictionStore.
type PredictionStore struct {
	mu   sync.RWMutex
	data []predictionRow
	seq  int64
}

// predictionRow pairs a prediction with its insertion sequence so the
// latest-wins query has a total order even on equal generation timestamps.
type predictionRow struct {
	pred domain.StockPrediction
	seq  int64
}

// NewPredictionStore creates a new in-memory prediction store.
func NewPredictionStore() *PredictionStore {
	return &PredictionStore{}
}

// InsertBulk adds multiple predictions.
func (s *PredictionStore) InsertBulk(_ context.Context, preds []*domain.StockPrediction) error {
	if len(preds) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range preds {
		if p == nil || p.ModelID == 0 || p.StockID == 0 {
			return storage.ErrInvalidInput
		}
		s.seq++
		s.data = append(s.data, predictionRow{pred: *p, seq: s.seq})
	}
	return nil
}

// GetRange retrieves predictions for a (model, stock) pair whose target
// timestamp falls within [start, end] (inclusive), ordered by target
// timestamp ASC. When several predictions share a target timestamp only the
// most recently generated one is returned.
func (s *PredictionStore) GetRange(_ context.Context, modelID, stockID int64, start, end time.Time) ([]*domain.StockPrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[int64]predictionRow)
	for _, row := range s.data {
		p := row.pred
		if p.ModelID != modelID || p.StockID != stockID {
			continue
		}
		if p.TargetTimestamp.Before(start) || p.TargetTimestamp.After(end) {
			continue
		}
		key := p.TargetTimestamp.UnixMilli()
		cur, seen := latest[key]
		if !seen || row.newerThan(cur) {
			latest[key] = row
		}
	}

	result := make([]*domain.StockPrediction, 0, len(latest))
	for _, row := range latest {
		predCopy := row.pred
		result = append(result, &predCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TargetTimestamp.Before(result[j].TargetTimestamp)
	})
	return result, nil
}

func (r predictionRow) newerThan(other predictionRow) bool {
	if !r.pred.PredictionTimestamp.Equal(other.pred.PredictionTimestamp) {
		return r.pred.PredictionTimestamp.After(other.pred.PredictionTimestamp)
	}
	return r.seq > other.seq
}

var _ storage.PredictionStore = (*PredictionStore)(nil)
