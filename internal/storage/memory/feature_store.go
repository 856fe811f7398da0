package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// FeatureStore is an in-memory implementation of storage.FeatureStore.
type FeatureStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FeatureRecord // keyed by (stock_id, feature_name, timestamp)
}

// NewFeatureStore creates a new in-memory feature store.
func NewFeatureStore() *FeatureStore {
	return &FeatureStore{
		data: make(map[string]*domain.FeatureRecord),
	}
}

func featureKey(stockID int64, name string, ts time.Time) string {
	return fmt.Sprintf("%d|%s|%d", stockID, name, ts.UnixMilli())
}

// InsertBulk adds multiple records. Existing (stock_id, feature_name, timestamp)
// records are replaced.
func (s *FeatureStore) InsertBulk(_ context.Context, records []*domain.FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if r == nil || r.StockID == 0 || r.FeatureName == "" {
			return storage.ErrInvalidInput
		}
		recordCopy := *r
		s.data[featureKey(r.StockID, r.FeatureName, r.Timestamp)] = &recordCopy
	}
	return nil
}

// GetRange retrieves records for a stock within [start, end] (inclusive),
// ordered by timestamp ASC. An empty names slice retrieves all features.
func (s *FeatureStore) GetRange(_ context.Context, stockID int64, names []string, start, end time.Time) ([]*domain.FeatureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wanted map[string]struct{}
	if len(names) > 0 {
		wanted = make(map[string]struct{}, len(names))
		for _, n := range names {
			wanted[n] = struct{}{}
		}
	}

	var result []*domain.FeatureRecord
	for _, r := range s.data {
		if r.StockID != stockID || r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		if wanted != nil {
			if _, ok := wanted[r.FeatureName]; !ok {
				continue
			}
		}
		recordCopy := *r
		result = append(result, &recordCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].FeatureName < result[j].FeatureName
	})

	return result, nil
}

var _ storage.FeatureStore = (*FeatureStore)(nil)
