package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

func predictionAt(modelID, stockID int64, generated, target time.Time, value float64) *domain.StockPrediction {
	return &domain.StockPrediction{
		ModelID:             modelID,
		StockID:             stockID,
		PredictionTimestamp: generated,
		TargetTimestamp:     target,
		PredictedValue:      value,
	}
}

func TestPredictionStore_GetRangeOrderedInclusive(t *testing.T) {
	store := NewPredictionStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	gen := base.Add(-24 * time.Hour)

	// Inserted out of order.
	preds := []*domain.StockPrediction{
		predictionAt(1, 1, gen, base.AddDate(0, 0, 2), 102),
		predictionAt(1, 1, gen, base, 100),
		predictionAt(1, 1, gen, base.AddDate(0, 0, 1), 101),
		predictionAt(1, 1, gen, base.AddDate(0, 0, 5), 105), // outside range
		predictionAt(1, 2, gen, base, 999),                  // other stock
		predictionAt(2, 1, gen, base, 999),                  // other model
	}
	if err := store.InsertBulk(ctx, preds); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetRange(ctx, 1, 1, base, base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 predictions, got %d", len(got))
	}
	for i, want := range []float64{100, 101, 102} {
		if got[i].PredictedValue != want {
			t.Errorf("position %d: expected %v, got %v", i, want, got[i].PredictedValue)
		}
	}
}

func TestPredictionStore_LatestGenerationWins(t *testing.T) {
	store := NewPredictionStore()
	ctx := context.Background()
	target := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	early := target.Add(-48 * time.Hour)
	late := target.Add(-24 * time.Hour)

	preds := []*domain.StockPrediction{
		predictionAt(1, 1, late, target, 110),
		predictionAt(1, 1, early, target, 90),
	}
	if err := store.InsertBulk(ctx, preds); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetRange(ctx, 1, 1, target, target)
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 prediction, got %d", len(got))
	}
	if got[0].PredictedValue != 110 {
		t.Errorf("expected latest generation (110), got %v", got[0].PredictedValue)
	}
}

func TestPredictionStore_EqualTimestampsLastInsertWins(t *testing.T) {
	store := NewPredictionStore()
	ctx := context.Background()
	target := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	gen := target.Add(-24 * time.Hour)

	if err := store.InsertBulk(ctx, []*domain.StockPrediction{predictionAt(1, 1, gen, target, 100)}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	if err := store.InsertBulk(ctx, []*domain.StockPrediction{predictionAt(1, 1, gen, target, 120)}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetRange(ctx, 1, 1, target, target)
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if len(got) != 1 || got[0].PredictedValue != 120 {
		t.Errorf("expected the later insert to win, got %+v", got)
	}
}

func TestPredictionStore_RejectsInvalidRows(t *testing.T) {
	store := NewPredictionStore()
	ctx := context.Background()
	target := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	err := store.InsertBulk(ctx, []*domain.StockPrediction{predictionAt(0, 1, target, target, 100)})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero model ID, got %v", err)
	}

	// Empty slice is a no-op.
	if err := store.InsertBulk(ctx, nil); err != nil {
		t.Errorf("empty insert should succeed, got %v", err)
	}
}
