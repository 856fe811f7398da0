package clickhouse

import (
	"context"
	"fmt"
	"time"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

// PriceStore implements storage.PriceStore using ClickHouse. The backing
// table is a ReplacingMergeTree keyed on (stock_id, timestamp), so
// re-inserting a bar replaces the previous version; reads use FINAL to
// collapse unmerged duplicates.
type PriceStore struct {
	conn *Conn
}

// NewPriceStore creates a new PriceStore.
func NewPriceStore(conn *Conn) *PriceStore {
	return &PriceStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

// InsertBulk adds multiple bars. Existing (stock_id, timestamp) bars are replaced.
func (s *PriceStore) InsertBulk(ctx context.Context, bars []*domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_bars (
			stock_id, timestamp, open, high, low, close, adjusted_close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, b := range bars {
		if b == nil || b.StockID == 0 {
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			uint64(b.StockID), b.Timestamp,
			b.Open, b.High, b.Low, b.Close, b.AdjustedClose, b.Volume,
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

// GetRange retrieves bars for a stock within [start, end] (inclusive), ordered by timestamp ASC.
func (s *PriceStore) GetRange(ctx context.Context, stockID int64, start, end time.Time) ([]*domain.PriceBar, error) {
	query := `
		SELECT stock_id, timestamp, open, high, low, close, adjusted_close, volume
		FROM price_bars FINAL
		WHERE stock_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(stockID), start, end)
	if err != nil {
		return nil, fmt.Errorf("query price bars: %w", err)
	}
	defer rows.Close()

	return scanPriceBars(rows)
}

// scanPriceBars scans multiple rows.
func scanPriceBars(rows chRows) ([]*domain.PriceBar, error) {
	var bars []*domain.PriceBar

	for rows.Next() {
		var b domain.PriceBar
		var stockID uint64

		err := rows.Scan(
			&stockID, &b.Timestamp,
			&b.Open, &b.High, &b.Low, &b.Close, &b.AdjustedClose, &b.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price bar row: %w", err)
		}

		b.StockID = int64(stockID)
		bars = append(bars, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price bar rows: %w", err)
	}

	return bars, nil
}
