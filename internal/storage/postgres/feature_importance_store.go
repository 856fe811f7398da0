package postgres

import (
	"context"
	"fmt"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// FeatureImportanceStore implements storage.FeatureImportanceStore using PostgreSQL.
type FeatureImportanceStore struct {
	pool *Pool
}

// NewFeatureImportanceStore creates a new FeatureImportanceStore.
func NewFeatureImportanceStore(pool *Pool) *FeatureImportanceStore {
	return &FeatureImportanceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FeatureImportanceStore = (*FeatureImportanceStore)(nil)

// ReplaceAll atomically replaces a model's importance rows. Delete and
// re-insert run in one transaction so readers never observe a partial set.
func (s *FeatureImportanceStore) ReplaceAll(ctx context.Context, modelID int64, scores []*domain.FeatureImportance) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM feature_importance WHERE model_id = $1`, modelID); err != nil {
		return fmt.Errorf("delete old importance rows: %w", err)
	}

	query := `
		INSERT INTO feature_importance (model_id, feature_name, importance_score)
		VALUES ($1, $2, $3)
	`
	for _, sc := range scores {
		if _, err := tx.Exec(ctx, query, modelID, sc.FeatureName, sc.ImportanceScore); err != nil {
			return fmt.Errorf("insert importance row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByModel retrieves a model's importance rows, highest score first.
func (s *FeatureImportanceStore) GetByModel(ctx context.Context, modelID int64) ([]*domain.FeatureImportance, error) {
	query := `
		SELECT model_id, feature_name, importance_score
		FROM feature_importance
		WHERE model_id = $1
		ORDER BY importance_score DESC, feature_name ASC
	`

	rows, err := s.pool.Query(ctx, query, modelID)
	if err != nil {
		return nil, fmt.Errorf("get importance rows: %w", err)
	}
	defer rows.Close()

	var result []*domain.FeatureImportance
	for rows.Next() {
		var fi domain.FeatureImportance
		if err := rows.Scan(&fi.ModelID, &fi.FeatureName, &fi.ImportanceScore); err != nil {
			return nil, fmt.Errorf("scan importance row: %w", err)
		}
		result = append(result, &fi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate importance rows: %w", err)
	}
	return result, nil
}
