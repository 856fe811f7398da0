package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// TrainingHistoryStore implements storage.TrainingHistoryStore using PostgreSQL.
type TrainingHistoryStore struct {
	pool *Pool
}

// NewTrainingHistoryStore creates a new TrainingHistoryStore.
func NewTrainingHistoryStore(pool *Pool) *TrainingHistoryStore {
	return &TrainingHistoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TrainingHistoryStore = (*TrainingHistoryStore)(nil)

// Insert adds a new run with status running and assigns its ID.
func (s *TrainingHistoryStore) Insert(ctx context.Context, h *domain.TrainingHistory) error {
	query := `
		INSERT INTO training_history (model_id, start_time, status)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	h.Status = domain.TrainingRunning
	h.EndTime = nil
	if err := s.pool.QueryRow(ctx, query, h.ModelID, h.StartTime, h.Status).Scan(&h.ID); err != nil {
		return fmt.Errorf("insert training run: %w", err)
	}
	return nil
}

// Complete finalizes a run with its end time, terminal status, metrics and
// optional error message. Returns ErrNotFound if not exists.
func (s *TrainingHistoryStore) Complete(ctx context.Context, id int64, endTime time.Time, status domain.TrainingStatus, metrics map[string]float64, errorMessage string) error {
	if status != domain.TrainingCompleted && status != domain.TrainingFailed {
		return storage.ErrInvalidInput
	}

	encoded, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal training metrics: %w", err)
	}

	query := `
		UPDATE training_history
		SET end_time = $2, status = $3, metrics = $4, error_message = $5
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, endTime, status, encoded, errorMessage)
	if err != nil {
		return fmt.Errorf("complete training run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByModel retrieves all runs for a model, newest first.
func (s *TrainingHistoryStore) ListByModel(ctx context.Context, modelID int64) ([]*domain.TrainingHistory, error) {
	query := `
		SELECT id, model_id, start_time, end_time, status, metrics, error_message
		FROM training_history
		WHERE model_id = $1
		ORDER BY start_time DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, modelID)
	if err != nil {
		return nil, fmt.Errorf("list training runs: %w", err)
	}
	defer rows.Close()

	var result []*domain.TrainingHistory
	for rows.Next() {
		var h domain.TrainingHistory
		var metrics []byte
		err := rows.Scan(
			&h.ID,
			&h.ModelID,
			&h.StartTime,
			&h.EndTime,
			&h.Status,
			&metrics,
			&h.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan training run row: %w", err)
		}
		if len(metrics) > 0 {
			if err := json.Unmarshal(metrics, &h.Metrics); err != nil {
				return nil, fmt.Errorf("unmarshal training metrics: %w", err)
			}
		}
		result = append(result, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training run rows: %w", err)
	}
	return result, nil
}
