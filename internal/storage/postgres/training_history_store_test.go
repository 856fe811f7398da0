package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
	"stock-prediction-lab/internal/storage/postgres"
)

func TestTrainingHistoryStore_InsertAndComplete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	modelID := createTestModel(t, ctx, pool, "hist-complete")

	store := postgres.NewTrainingHistoryStore(pool)
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	h := &domain.TrainingHistory{ModelID: modelID, StartTime: start}
	require.NoError(t, store.Insert(ctx, h))
	assert.NotZero(t, h.ID)
	assert.Equal(t, domain.TrainingRunning, h.Status)

	end := start.Add(3 * time.Minute)
	metrics := map[string]float64{"train_rmse": 1.25, "val_rmse": 1.4}
	require.NoError(t, store.Complete(ctx, h.ID, end, domain.TrainingCompleted, metrics, ""))

	runs, err := store.ListByModel(ctx, modelID)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, domain.TrainingCompleted, got.Status)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(end))
	assert.InDelta(t, 1.25, got.Metrics["train_rmse"], 1e-12)
	assert.Empty(t, got.ErrorMessage)
}

func TestTrainingHistoryStore_CompleteFailedRunKeepsError(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	modelID := createTestModel(t, ctx, pool, "hist-failed")

	store := postgres.NewTrainingHistoryStore(pool)
	start := time.Now().UTC().Truncate(time.Second)

	h := &domain.TrainingHistory{ModelID: modelID, StartTime: start}
	require.NoError(t, store.Insert(ctx, h))
	require.NoError(t, store.Complete(ctx, h.ID, start.Add(time.Minute), domain.TrainingFailed, nil, "no training data"))

	runs, err := store.ListByModel(ctx, modelID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.TrainingFailed, runs[0].Status)
	assert.Equal(t, "no training data", runs[0].ErrorMessage)
}

func TestTrainingHistoryStore_CompleteRejectsNonTerminalStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	modelID := createTestModel(t, ctx, pool, "hist-nonterminal")

	store := postgres.NewTrainingHistoryStore(pool)
	h := &domain.TrainingHistory{ModelID: modelID, StartTime: time.Now().UTC()}
	require.NoError(t, store.Insert(ctx, h))

	err := store.Complete(ctx, h.ID, time.Now().UTC(), domain.TrainingRunning, nil, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestTrainingHistoryStore_CompleteMissingRun(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewTrainingHistoryStore(pool)
	err := store.Complete(context.Background(), 999999, time.Now().UTC(), domain.TrainingFailed, nil, "boom")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTrainingHistoryStore_ListNewestFirst(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	modelID := createTestModel(t, ctx, pool, "hist-order")

	store := postgres.NewTrainingHistoryStore(pool)
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		h := &domain.TrainingHistory{ModelID: modelID, StartTime: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, store.Insert(ctx, h))
	}

	runs, err := store.ListByModel(ctx, modelID)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.True(t, runs[0].StartTime.After(runs[1].StartTime))
	assert.True(t, runs[1].StartTime.After(runs[2].StartTime))
}
