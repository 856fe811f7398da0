package clickhouse_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-prediction-lab/internal/domain"
	chstore "stock-prediction-lab/internal/storage/clickhouse"
)

func testFeature(stockID int64, name string, ts time.Time, value float64) *domain.FeatureRecord {
	return &domain.FeatureRecord{
		StockID:      stockID,
		Timestamp:    ts,
		FeatureName:  name,
		FeatureValue: value,
	}
}

func TestFeatureStore_InsertBulkAndGetRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := chstore.NewFeatureStore(conn)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	records := []*domain.FeatureRecord{
		testFeature(1, "rsi_14", base, 40),
		testFeature(1, "rsi_14", base.AddDate(0, 0, 1), 45),
		testFeature(1, "ma_5", base, 101),
		testFeature(2, "rsi_14", base, 999),
	}
	require.NoError(t, store.InsertBulk(ctx, records))

	got, err := store.GetRange(ctx, 1, nil, base, base.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Ordered by timestamp, then feature name.
	assert.Equal(t, "ma_5", got[0].FeatureName)
	assert.Equal(t, "rsi_14", got[1].FeatureName)
	assert.InDelta(t, 45, got[2].FeatureValue, 1e-9)
}

func TestFeatureStore_FiltersByName(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := chstore.NewFeatureStore(conn)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	records := []*domain.FeatureRecord{
		testFeature(1, "rsi_14", base, 40),
		testFeature(1, "ma_5", base, 101),
		testFeature(1, "macd_line", base, -0.5),
	}
	require.NoError(t, store.InsertBulk(ctx, records))

	got, err := store.GetRange(ctx, 1, []string{"rsi_14", "ma_5"}, base, base)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ma_5", got[0].FeatureName)
	assert.Equal(t, "rsi_14", got[1].FeatureName)
}

func TestFeatureStore_ReInsertReplacesValue(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := chstore.NewFeatureStore(conn)
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertBulk(ctx, []*domain.FeatureRecord{testFeature(1, "rsi_14", ts, 40)}))
	require.NoError(t, store.InsertBulk(ctx, []*domain.FeatureRecord{testFeature(1, "rsi_14", ts, 55)}))

	got, err := store.GetRange(ctx, 1, []string{"rsi_14"}, ts, ts)
	require.NoError(t, err)
	require.Len(t, got, 1, "FINAL read should collapse replaced rows")
	assert.InDelta(t, 55, got[0].FeatureValue, 1e-9)
}
