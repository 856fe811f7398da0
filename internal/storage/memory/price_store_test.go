package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

func barAt(stockID int64, ts time.Time, close float64) *domain.PriceBar {
	return &domain.PriceBar{
		StockID:       stockID,
		Timestamp:     ts,
		Open:          close - 0.5,
		High:          close + 1,
		Low:           close - 1,
		Close:         close,
		AdjustedClose: close,
		Volume:        1000,
	}
}

func TestPriceStore_GetRangeOrderedInclusive(t *testing.T) {
	store := NewPriceStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	bars := []*domain.PriceBar{
		barAt(1, base.AddDate(0, 0, 2), 102),
		barAt(1, base, 100),
		barAt(1, base.AddDate(0, 0, 1), 101),
		barAt(1, base.AddDate(0, 0, 9), 109), // outside range
		barAt(2, base, 999),                  // other stock
	}
	if err := store.InsertBulk(ctx, bars); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetRange(ctx, 1, base, base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(got))
	}
	for i, want := range []float64{100, 101, 102} {
		if got[i].Close != want {
			t.Errorf("position %d: expected close %v, got %v", i, want, got[i].Close)
		}
	}
}

func TestPriceStore_ReplaceOnSameKey(t *testing.T) {
	store := NewPriceStore()
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := store.InsertBulk(ctx, []*domain.PriceBar{barAt(1, ts, 100)}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	// Re-ingesting the same (stock, timestamp) replaces the bar.
	if err := store.InsertBulk(ctx, []*domain.PriceBar{barAt(1, ts, 105)}); err != nil {
		t.Fatalf("second InsertBulk failed: %v", err)
	}

	got, err := store.GetRange(ctx, 1, ts, ts)
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if len(got) != 1 || got[0].Close != 105 {
		t.Errorf("expected single replaced bar at 105, got %+v", got)
	}
}

func TestPriceStore_RejectsInvalidBar(t *testing.T) {
	store := NewPriceStore()
	err := store.InsertBulk(context.Background(), []*domain.PriceBar{{StockID: 0}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPriceStore_EmptyRange(t *testing.T) {
	store := NewPriceStore()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := store.GetRange(context.Background(), 1, base, base.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no bars, got %d", len(got))
	}
}
