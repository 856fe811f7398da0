package postgres

import (
	"context"
	"fmt"
	"time"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// PredictionStore implements storage.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *Pool
}

// NewPredictionStore creates a new PredictionStore.
func NewPredictionStore(pool *Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PredictionStore = (*PredictionStore)(nil)

// InsertBulk adds multiple predictions.
func (s *PredictionStore) InsertBulk(ctx context.Context, preds []*domain.StockPrediction) error {
	if len(preds) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO stock_predictions (
			model_id, stock_id, prediction_timestamp, target_timestamp,
			predicted_value, confidence_lower, confidence_upper
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for _, p := range preds {
		_, err := tx.Exec(ctx, query,
			p.ModelID,
			p.StockID,
			p.PredictionTimestamp,
			p.TargetTimestamp,
			p.PredictedValue,
			p.ConfidenceLower,
			p.ConfidenceUpper,
		)
		if err != nil {
			return fmt.Errorf("insert prediction in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetRange retrieves predictions for a (model, stock) pair whose target
// timestamp falls within [start, end] (inclusive), ordered by target
// timestamp ASC. DISTINCT ON keeps only the most recently generated
// prediction per target timestamp.
func (s *PredictionStore) GetRange(ctx context.Context, modelID, stockID int64, start, end time.Time) ([]*domain.StockPrediction, error) {
	query := `
		SELECT DISTINCT ON (target_timestamp)
			model_id, stock_id, prediction_timestamp, target_timestamp,
			predicted_value, confidence_lower, confidence_upper
		FROM stock_predictions
		WHERE model_id = $1 AND stock_id = $2
			AND target_timestamp >= $3 AND target_timestamp <= $4
		ORDER BY target_timestamp ASC, prediction_timestamp DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, modelID, stockID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get predictions: %w", err)
	}
	defer rows.Close()

	var result []*domain.StockPrediction
	for rows.Next() {
		var p domain.StockPrediction
		err := rows.Scan(
			&p.ModelID,
			&p.StockID,
			&p.PredictionTimestamp,
			&p.TargetTimestamp,
			&p.PredictedValue,
			&p.ConfidenceLower,
			&p.ConfidenceUpper,
		)
		if err != nil {
			return nil, fmt.Errorf("scan prediction row: %w", err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prediction rows: %w", err)
	}
	return result, nil
}
