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

// PriceStore is an in-memory implementation of storage.PriceStore.
type PriceStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PriceBar // keyed by (stock_id, timestamp)
}

// NewPriceStore creates a new in-memory price store.
func NewPriceStore() *PriceStore {
	return &PriceStore{
		data: make(map[string]*domain.PriceBar),
	}
}

func priceKey(stockID int64, ts time.Time) string {
	return fmt.Sprintf("%d|%d", stockID, ts.UnixMilli())
}

// InsertBulk adds multiple bars. Existing (stock_id, timestamp) bars are replaced.
func (s *PriceStore) InsertBulk(_ context.Context, bars []*domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range bars {
		if b == nil || b.StockID == 0 {
			return storage.ErrInvalidInput
		}
		barCopy := *b
		s.data[priceKey(b.StockID, b.Timestamp)] = &barCopy
	}
	return nil
}

// GetRange retrieves bars for a stock within [start, end] (inclusive), ordered by timestamp ASC.
func (s *PriceStore) GetRange(_ context.Context, stockID int64, start, end time.Time) ([]*domain.PriceBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceBar
	for _, b := range s.data {
		if b.StockID == stockID && !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			barCopy := *b
			result = append(result, &barCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

var _ storage.PriceStore = (*PriceStore)(nil)
