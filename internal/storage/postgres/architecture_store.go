package postgres

import (
	"context"
	"fmt"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// ArchitectureStore implements storage.ArchitectureStore using PostgreSQL.
type ArchitectureStore struct {
	pool *Pool
}

// NewArchitectureStore creates a new ArchitectureStore.
func NewArchitectureStore(pool *Pool) *ArchitectureStore {
	return &ArchitectureStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ArchitectureStore = (*ArchitectureStore)(nil)

// Insert adds a new architecture. Returns ErrDuplicateKey if name exists.
func (s *ArchitectureStore) Insert(ctx context.Context, a *domain.ModelArchitecture) error {
	query := `
		INSERT INTO model_architectures (name)
		VALUES ($1)
		RETURNING id
	`

	if err := s.pool.QueryRow(ctx, query, a.Name).Scan(&a.ID); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert architecture: %w", err)
	}
	return nil
}

// GetByName retrieves an architecture by name. Returns ErrNotFound if not exists.
func (s *ArchitectureStore) GetByName(ctx context.Context, name string) (*domain.ModelArchitecture, error) {
	query := `SELECT id, name FROM model_architectures WHERE name = $1`

	var a domain.ModelArchitecture
	if err := s.pool.QueryRow(ctx, query, name).Scan(&a.ID, &a.Name); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get architecture by name: %w", err)
	}
	return &a, nil
}

// List retrieves all architectures, ordered by ID ASC.
func (s *ArchitectureStore) List(ctx context.Context) ([]*domain.ModelArchitecture, error) {
	query := `SELECT id, name FROM model_architectures ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list architectures: %w", err)
	}
	defer rows.Close()

	var result []*domain.ModelArchitecture
	for rows.Next() {
		var a domain.ModelArchitecture
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("scan architecture row: %w", err)
		}
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate architecture rows: %w", err)
	}
	return result, nil
}
