package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
	"stock-prediction-lab/internal/storage/postgres"
)

// architectureID looks up a seeded catalog entry for FK references.
func architectureID(t *testing.T, ctx context.Context, pool *postgres.Pool, name string) int64 {
	t.Helper()
	arch, err := postgres.NewArchitectureStore(pool).GetByName(ctx, name)
	require.NoError(t, err, "seeded architecture missing: %s", name)
	return arch.ID
}

func TestModelStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewModelStore(pool)

	m := &domain.Model{
		ArchitectureID: architectureID(t, ctx, pool, domain.ArchitectureLSTM),
		Name:           "aapl-lstm",
		Version:        "v1",
		Hyperparameters: domain.Hyperparameters{
			"lookback_window":  30,
			"forecast_horizon": 5,
			"learning_rate":    0.001,
		},
		FeatureConfig: domain.FeatureConfig{
			StaticFeatures:      []string{"sector_id"},
			TimeVaryingFeatures: []string{"close", "volume", "rsi_14"},
		},
		DatasetConfig: domain.TrainingDatasetConfig{
			TrainSplit: 0.8,
			StockIDs:   []int64{1, 2},
		},
		Status: domain.StatusCreated,
	}

	err := store.Insert(ctx, m)
	require.NoError(t, err)
	assert.NotZero(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())

	retrieved, err := store.GetByID(ctx, m.ID)
	require.NoError(t, err)

	assert.Equal(t, m.Name, retrieved.Name)
	assert.Equal(t, m.Version, retrieved.Version)
	assert.Equal(t, domain.StatusCreated, retrieved.Status)
	// JSONB columns round-trip through the scan.
	assert.InDelta(t, 0.001, retrieved.Hyperparameters["learning_rate"], 1e-12)
	assert.Equal(t, []string{"close", "volume", "rsi_14"}, retrieved.FeatureConfig.TimeVaryingFeatures)
	assert.Equal(t, []string{"sector_id"}, retrieved.FeatureConfig.StaticFeatures)
	assert.InDelta(t, 0.8, retrieved.DatasetConfig.TrainSplit, 1e-12)
	assert.Equal(t, []int64{1, 2}, retrieved.DatasetConfig.StockIDs)
}

func TestModelStore_GetByNameVersion(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewModelStore(pool)
	archID := architectureID(t, ctx, pool, domain.ArchitectureARIMA)

	m := &domain.Model{ArchitectureID: archID, Name: "spy-arima", Version: "v3", Status: domain.StatusCreated}
	require.NoError(t, store.Insert(ctx, m))

	retrieved, err := store.GetByNameVersion(ctx, "spy-arima", "v3")
	require.NoError(t, err)
	assert.Equal(t, m.ID, retrieved.ID)

	_, err = store.GetByNameVersion(ctx, "spy-arima", "v99")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestModelStore_InsertDuplicateNameVersion(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewModelStore(pool)
	archID := architectureID(t, ctx, pool, domain.ArchitectureARIMA)

	m := &domain.Model{ArchitectureID: archID, Name: "dup", Version: "v1", Status: domain.StatusCreated}
	require.NoError(t, store.Insert(ctx, m))

	again := &domain.Model{ArchitectureID: archID, Name: "dup", Version: "v1", Status: domain.StatusCreated}
	err := store.Insert(ctx, again)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestModelStore_UpdateStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewModelStore(pool)
	archID := architectureID(t, ctx, pool, domain.ArchitectureARIMA)

	m := &domain.Model{ArchitectureID: archID, Name: "status", Version: "v1", Status: domain.StatusCreated}
	require.NoError(t, store.Insert(ctx, m))

	require.NoError(t, store.UpdateStatus(ctx, m.ID, domain.StatusTraining))

	retrieved, err := store.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTraining, retrieved.Status)
	assert.True(t, retrieved.UpdatedAt.After(retrieved.CreatedAt) || retrieved.UpdatedAt.Equal(retrieved.CreatedAt))

	err = store.UpdateStatus(ctx, m.ID, domain.ModelStatus("bogus"))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.UpdateStatus(ctx, 999999, domain.StatusTraining)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestModelStore_UpdateArtifactPath(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewModelStore(pool)
	archID := architectureID(t, ctx, pool, domain.ArchitectureARIMA)

	m := &domain.Model{ArchitectureID: archID, Name: "path", Version: "v1", Status: domain.StatusCreated}
	require.NoError(t, store.Insert(ctx, m))

	key := "ARIMA/path/v1/20240601120000.bin"
	require.NoError(t, store.UpdateArtifactPath(ctx, m.ID, key))

	retrieved, err := store.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, key, retrieved.ModelPath)

	err = store.UpdateArtifactPath(ctx, 999999, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestModelStore_ListByArchitecture(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewModelStore(pool)
	arimaID := architectureID(t, ctx, pool, domain.ArchitectureARIMA)
	lstmID := architectureID(t, ctx, pool, domain.ArchitectureLSTM)

	for _, m := range []*domain.Model{
		{ArchitectureID: arimaID, Name: "a", Version: "v1", Status: domain.StatusCreated},
		{ArchitectureID: lstmID, Name: "b", Version: "v1", Status: domain.StatusCreated},
		{ArchitectureID: arimaID, Name: "c", Version: "v1", Status: domain.StatusCreated},
	} {
		require.NoError(t, store.Insert(ctx, m))
	}

	arima, err := store.ListByArchitecture(ctx, arimaID)
	require.NoError(t, err)
	assert.Len(t, arima, 2)

	all, err := store.ListByArchitecture(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
