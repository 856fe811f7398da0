package clickhouse

import (
	"context"
	"fmt"
	"time"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// FeatureStore implements storage.FeatureStore using ClickHouse. The backing
// table is a ReplacingMergeTree keyed on (stock_id, feature_name, timestamp).
type FeatureStore struct {
	conn *Conn
}

// NewFeatureStore creates a new FeatureStore.
func NewFeatureStore(conn *Conn) *FeatureStore {
	return &FeatureStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeatureStore = (*FeatureStore)(nil)

// InsertBulk adds multiple records. Existing (stock_id, feature_name, timestamp)
// records are replaced.
func (s *FeatureStore) InsertBulk(ctx context.Context, records []*domain.FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO feature_values (
			stock_id, feature_name, timestamp, feature_value
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		if r == nil || r.StockID == 0 || r.FeatureName == "" {
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			uint64(r.StockID), r.FeatureName, r.Timestamp, r.FeatureValue,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetRange retrieves records for a stock within [start, end] (inclusive),
// ordered by timestamp ASC. An empty names slice retrieves all features.
func (s *FeatureStore) GetRange(ctx context.Context, stockID int64, names []string, start, end time.Time) ([]*domain.FeatureRecord, error) {
	query := `
		SELECT stock_id, feature_name, timestamp, feature_value
		FROM feature_values FINAL
		WHERE stock_id = ? AND timestamp >= ? AND timestamp <= ?
	`
	args := []any{uint64(stockID), start, end}
	if len(names) > 0 {
		query += ` AND feature_name IN (?)`
		args = append(args, names)
	}
	query += ` ORDER BY timestamp ASC, feature_name ASC`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feature values: %w", err)
	}
	defer rows.Close()

	var records []*domain.FeatureRecord
	for rows.Next() {
		var r domain.FeatureRecord
		var stockID uint64

		err := rows.Scan(&stockID, &r.FeatureName, &r.Timestamp, &r.FeatureValue)
		if err != nil {
			return nil, fmt.Errorf("scan feature value row: %w", err)
		}

		r.StockID = int64(stockID)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feature value rows: %w", err)
	}

	return records, nil
}
