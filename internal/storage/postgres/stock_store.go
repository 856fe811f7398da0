package postgres

import (
	"context"
	"fmt"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// StockStore implements storage.StockStore using PostgreSQL.
type StockStore struct {
	pool *Pool
}

// NewStockStore creates a new StockStore.
func NewStockStore(pool *Pool) *StockStore {
	return &StockStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StockStore = (*StockStore)(nil)

// Insert adds a new stock. Returns ErrDuplicateKey if symbol exists.
func (s *StockStore) Insert(ctx context.Context, st *domain.Stock) error {
	query := `
		INSERT INTO stocks (symbol, name, exchange, sector, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := s.pool.QueryRow(ctx, query,
		st.Symbol,
		st.Name,
		st.Exchange,
		st.Sector,
		st.Active,
	).Scan(&st.ID, &st.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert stock: %w", err)
	}
	return nil
}

// GetByID retrieves a stock by its ID. Returns ErrNotFound if not exists.
func (s *StockStore) GetByID(ctx context.Context, id int64) (*domain.Stock, error) {
	query := `
		SELECT id, symbol, name, exchange, sector, active, created_at
		FROM stocks
		WHERE id = $1
	`
	return s.scanOne(ctx, query, id)
}

// GetBySymbol retrieves a stock by symbol. Returns ErrNotFound if not exists.
func (s *StockStore) GetBySymbol(ctx context.Context, symbol string) (*domain.Stock, error) {
	query := `
		SELECT id, symbol, name, exchange, sector, active, created_at
		FROM stocks
		WHERE symbol = $1
	`
	return s.scanOne(ctx, query, symbol)
}

// ActiveIDs retrieves the IDs of all active stocks, ordered ascending.
func (s *StockStore) ActiveIDs(ctx context.Context) ([]int64, error) {
	query := `SELECT id FROM stocks WHERE active ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get active stock ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stock id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock ids: %w", err)
	}
	return ids, nil
}

func (s *StockStore) scanOne(ctx context.Context, query string, arg any) (*domain.Stock, error) {
	var st domain.Stock
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&st.ID,
		&st.Symbol,
		&st.Name,
		&st.Exchange,
		&st.Sector,
		&st.Active,
		&st.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return &st, nil
}
