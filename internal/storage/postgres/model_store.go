package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// ModelStore implements storage.ModelStore using PostgreSQL. Hyperparameters,
// feature config and dataset config are stored as JSONB.
type ModelStore struct {
	pool *Pool
}

// NewModelStore creates a new ModelStore.
func NewModelStore(pool *Pool) *ModelStore {
	return &ModelStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ModelStore = (*ModelStore)(nil)

const modelColumns = `
	id, architecture_id, name, version, hyperparameters, feature_config,
	dataset_config, status, model_path, created_at, updated_at
`

// Insert adds a new model and assigns its ID.
// Returns ErrDuplicateKey if (name, version) exists.
func (s *ModelStore) Insert(ctx context.Context, m *domain.Model) error {
	hyper, err := json.Marshal(m.Hyperparameters)
	if err != nil {
		return fmt.Errorf("marshal hyperparameters: %w", err)
	}
	features, err := json.Marshal(m.FeatureConfig)
	if err != nil {
		return fmt.Errorf("marshal feature config: %w", err)
	}
	ds, err := json.Marshal(m.DatasetConfig)
	if err != nil {
		return fmt.Errorf("marshal dataset config: %w", err)
	}

	query := `
		INSERT INTO models (
			architecture_id, name, version, hyperparameters, feature_config,
			dataset_config, status, model_path
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err = s.pool.QueryRow(ctx, query,
		m.ArchitectureID,
		m.Name,
		m.Version,
		hyper,
		features,
		ds,
		m.Status,
		m.ModelPath,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert model: %w", err)
	}
	return nil
}

// GetByID retrieves a model by its ID. Returns ErrNotFound if not exists.
func (s *ModelStore) GetByID(ctx context.Context, id int64) (*domain.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	m, err := scanModel(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get model by id: %w", err)
	}
	return m, nil
}

// GetByNameVersion retrieves a model by (name, version). Returns ErrNotFound if not exists.
func (s *ModelStore) GetByNameVersion(ctx context.Context, name, version string) (*domain.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE name = $1 AND version = $2`

	row := s.pool.QueryRow(ctx, query, name, version)
	m, err := scanModel(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get model by name/version: %w", err)
	}
	return m, nil
}

// ListByArchitecture retrieves all models for an architecture, newest first.
// A zero architectureID retrieves all models.
func (s *ModelStore) ListByArchitecture(ctx context.Context, architectureID int64) ([]*domain.Model, error) {
	query := `
		SELECT ` + modelColumns + `
		FROM models
		WHERE $1 = 0 OR architecture_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, architectureID)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var result []*domain.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model row: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model rows: %w", err)
	}
	return result, nil
}

// UpdateStatus sets the lifecycle status. Returns ErrNotFound if not exists,
// ErrInvalidInput if the status is not a recognized lifecycle state.
func (s *ModelStore) UpdateStatus(ctx context.Context, id int64, status domain.ModelStatus) error {
	if !status.Valid() {
		return storage.ErrInvalidInput
	}

	query := `UPDATE models SET status = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update model status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateArtifactPath records where the trained artifact was persisted.
// Returns ErrNotFound if not exists.
func (s *ModelStore) UpdateArtifactPath(ctx context.Context, id int64, path string) error {
	query := `UPDATE models SET model_path = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, path)
	if err != nil {
		return fmt.Errorf("update model path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanModel scans one model row, decoding the JSONB columns.
func scanModel(row pgx.Row) (*domain.Model, error) {
	var m domain.Model
	var hyper, features, ds []byte

	err := row.Scan(
		&m.ID,
		&m.ArchitectureID,
		&m.Name,
		&m.Version,
		&hyper,
		&features,
		&ds,
		&m.Status,
		&m.ModelPath,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(hyper, &m.Hyperparameters); err != nil {
		return nil, fmt.Errorf("unmarshal hyperparameters: %w", err)
	}
	if err := json.Unmarshal(features, &m.FeatureConfig); err != nil {
		return nil, fmt.Errorf("unmarshal feature config: %w", err)
	}
	if err := json.Unmarshal(ds, &m.DatasetConfig); err != nil {
		return nil, fmt.Errorf("unmarshal dataset config: %w", err)
	}
	return &m, nil
}
