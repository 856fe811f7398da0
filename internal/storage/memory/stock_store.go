package memory

import (
	"context"
	"sort"
	"sync"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// StockStore is an in-memory implementation of storage.StockStore.
type StockStore struct {
	mu     sync.RWMutex
	data   map[int64]*domain.Stock
	nextID int64
}

// NewStockStore creates a new in-memory stock store.
func NewStockStore() *StockStore {
	return &StockStore{
		data:   make(map[int64]*domain.Stock),
		nextID: 1,
	}
}

// Insert adds a new stock. Returns ErrDuplicateKey if symbol exists.
func (s *StockStore) Insert(_ context.Context, st *domain.Stock) error {
	if st == nil || st.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data {
		if existing.Symbol == st.Symbol {
			return storage.ErrDuplicateKey
		}
	}

	st.ID = s.nextID
	s.nextID++

	// Store a copy to prevent external mutation
	stockCopy := *st
	s.data[st.ID] = &stockCopy
	return nil
}

// GetByID retrieves a stock by its ID. Returns ErrNotFound if not exists.
func (s *StockStore) GetByID(_ context.Context, id int64) (*domain.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	stockCopy := *st
	return &stockCopy, nil
}

// GetBySymbol retrieves a stock by symbol. Returns ErrNotFound if not exists.
func (s *StockStore) GetBySymbol(_ context.Context, symbol string) (*domain.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.data {
		if st.Symbol == symbol {
			stockCopy := *st
			return &stockCopy, nil
		}
	}
	return nil, storage.ErrNotFound
}

// ActiveIDs retrieves the IDs of all active stocks, ordered ascending.
func (s *StockStore) ActiveIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []int64
	for id, st := range s.data {
		if st.Active {
			result = append(result, id)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.StockStore = (*StockStore)(nil)
