package training

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/marketdata"
	"stock-prediction-lab/internal/model"
	"stock-prediction-lab/internal/registry"
	"stock-prediction-lab/internal/storage"
	"stock-prediction-lab/internal/storage/memory"
)

// trainingEnv wires the service against in-memory stores with a fixed clock.
type trainingEnv struct {
	svc    *Service
	reg    *registry.Registry
	stocks *memory.StockStore
	prices *memory.PriceStore
	now    time.Time
}

func newTrainingEnv(t *testing.T) *trainingEnv {
	t.Helper()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	reg := registry.New(registry.Options{
		Logger:                 zerolog.Nop(),
		ArchitectureStore:      memory.NewArchitectureStore(),
		ModelStore:             memory.NewModelStore(),
		TrainingHistoryStore:   memory.NewTrainingHistoryStore(),
		FeatureImportanceStore: memory.NewFeatureImportanceStore(),
		ArtifactStore:          memory.NewArtifactStore(),
		Now:                    clock,
	})
	if err := reg.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	stocks := memory.NewStockStore()
	prices := memory.NewPriceStore()

	market := marketdata.New(marketdata.Options{
		Logger:       zerolog.Nop(),
		PriceStore:   prices,
		FeatureStore: memory.NewFeatureStore(),
	})

	svc := New(Options{
		Logger:     zerolog.Nop(),
		Registry:   reg,
		MarketData: market,
		StockStore: stocks,
		Now:        clock,
	})

	return &trainingEnv{svc: svc, reg: reg, stocks: stocks, prices: prices, now: now}
}

// seedPriceHistory inserts n daily bars ending at the env clock.
func (e *trainingEnv) seedPriceHistory(t *testing.T, stockID int64, n int) {
	t.Helper()

	bars := make([]*domain.PriceBar, n)
	for i := 0; i < n; i++ {
		c := 100 + float64(i) + 2*math.Sin(float64(i)*0.3)
		bars[i] = &domain.PriceBar{
			StockID:       stockID,
			Timestamp:     e.now.AddDate(0, 0, i-n+1),
			Open:          c - 0.5,
			High:          c + 1,
			Low:           c - 1,
			Close:         c,
			AdjustedClose: c,
			Volume:        1000,
		}
	}
	if err := e.prices.InsertBulk(context.Background(), bars); err != nil {
		t.Fatalf("seed prices failed: %v", err)
	}
}

func (e *trainingEnv) createARIMAModel(t *testing.T, name string, stockIDs []int64, allStocks bool) *domain.Model {
	t.Helper()

	m := &domain.Model{
		Name:    name,
		Version: "v1",
		Hyperparameters: domain.Hyperparameters{
			"lookback_window":  20,
			"forecast_horizon": 5,
			"p":                2,
			"d":                1,
			"q":                0,
		},
		FeatureConfig: domain.FeatureConfig{TimeVaryingFeatures: []string{"close"}},
		DatasetConfig: domain.TrainingDatasetConfig{
			TrainSplit: 0.8,
			StockIDs:   stockIDs,
			AllStocks:  allStocks,
		},
	}
	if err := e.reg.CreateModel(context.Background(), domain.ArchitectureARIMA, m); err != nil {
		t.Fatalf("CreateModel failed: %v", err)
	}
	return m
}

func TestTrainModel_Success(t *testing.T) {
	env := newTrainingEnv(t)
	ctx := context.Background()
	env.seedPriceHistory(t, 1, 150)
	m := env.createARIMAModel(t, "aapl-arima", []int64{1}, false)

	result, err := env.svc.TrainModel(ctx, m.ID)
	if err != nil {
		t.Fatalf("TrainModel failed: %v", err)
	}

	if result.ArtifactPath == "" {
		t.Error("no artifact path recorded")
	}
	if result.StocksUsed != 1 {
		t.Errorf("expected 1 stock used, got %d", result.StocksUsed)
	}
	if _, ok := result.Metrics["train_rmse"]; !ok {
		t.Errorf("missing train_rmse in %v", result.Metrics)
	}

	stored, err := env.reg.GetModel(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetModel failed: %v", err)
	}
	if stored.Status != domain.StatusReady {
		t.Errorf("expected status ready, got %s", stored.Status)
	}
	if stored.ModelPath != result.ArtifactPath {
		t.Errorf("artifact path mismatch: %s vs %s", stored.ModelPath, result.ArtifactPath)
	}

	// The artifact is loadable again.
	if _, err := env.reg.LoadArtifact(ctx, stored); err != nil {
		t.Errorf("stored artifact not loadable: %v", err)
	}

	runs, err := env.reg.TrainingRuns(ctx, m.ID)
	if err != nil {
		t.Fatalf("TrainingRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != domain.TrainingCompleted {
		t.Fatalf("expected one completed run, got %+v", runs)
	}
	if runs[0].Metrics["train_rmse"] != result.Metrics["train_rmse"] {
		t.Errorf("run metrics diverge from result metrics")
	}
}

func TestTrainModel_AllStocksResolvesActive(t *testing.T) {
	env := newTrainingEnv(t)
	ctx := context.Background()

	active := &domain.Stock{Symbol: "AAPL", Active: true}
	inactive := &domain.Stock{Symbol: "DEAD", Active: false}
	if err := env.stocks.Insert(ctx, active); err != nil {
		t.Fatalf("insert stock: %v", err)
	}
	if err := env.stocks.Insert(ctx, inactive); err != nil {
		t.Fatalf("insert stock: %v", err)
	}
	env.seedPriceHistory(t, active.ID, 150)
	env.seedPriceHistory(t, inactive.ID, 150)

	m := env.createARIMAModel(t, "all-active", nil, true)
	result, err := env.svc.TrainModel(ctx, m.ID)
	if err != nil {
		t.Fatalf("TrainModel failed: %v", err)
	}
	// Only the active stock contributes.
	if result.StocksUsed != 1 {
		t.Errorf("expected 1 stock used, got %d", result.StocksUsed)
	}
}

func TestTrainModel_NoUsableStocksMarksFailed(t *testing.T) {
	env := newTrainingEnv(t)
	ctx := context.Background()
	m := env.createARIMAModel(t, "no-data", []int64{99}, false)

	_, err := env.svc.TrainModel(ctx, m.ID)
	if !errors.Is(err, ErrNoTrainingData) {
		t.Fatalf("expected ErrNoTrainingData, got %v", err)
	}

	stored, err := env.reg.GetModel(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetModel failed: %v", err)
	}
	// A dataset failure never leaves the model ready or stuck in training.
	if stored.Status != domain.StatusFailed {
		t.Errorf("expected status failed, got %s", stored.Status)
	}

	runs, err := env.reg.TrainingRuns(ctx, m.ID)
	if err != nil {
		t.Fatalf("TrainingRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != domain.TrainingFailed {
		t.Fatalf("expected one failed run, got %+v", runs)
	}
	if runs[0].ErrorMessage == "" {
		t.Error("failure reason not recorded on the run")
	}
}

func TestTrainModel_SingleBarMarksFailed(t *testing.T) {
	env := newTrainingEnv(t)
	ctx := context.Background()
	// One bar survives dataset assembly but leaves nothing to fit after the
	// chronological split.
	env.seedPriceHistory(t, 1, 1)
	m := env.createARIMAModel(t, "one-bar", []int64{1}, false)

	_, err := env.svc.TrainModel(ctx, m.ID)
	if !errors.Is(err, model.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}

	stored, err := env.reg.GetModel(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetModel failed: %v", err)
	}
	if stored.Status != domain.StatusFailed {
		t.Errorf("expected status failed, got %s", stored.Status)
	}

	runs, err := env.reg.TrainingRuns(ctx, m.ID)
	if err != nil {
		t.Fatalf("TrainingRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != domain.TrainingFailed {
		t.Fatalf("expected one failed run, got %+v", runs)
	}
	if runs[0].ErrorMessage == "" {
		t.Error("failure reason not recorded on the run")
	}
}

func TestTrainModel_SkipsBrokenStock(t *testing.T) {
	env := newTrainingEnv(t)
	ctx := context.Background()
	env.seedPriceHistory(t, 1, 150)
	// Stock 2 has no data and is skipped, not fatal.
	m := env.createARIMAModel(t, "partial", []int64{1, 2}, false)

	result, err := env.svc.TrainModel(ctx, m.ID)
	if err != nil {
		t.Fatalf("TrainModel failed: %v", err)
	}
	if result.StocksUsed != 1 {
		t.Errorf("expected 1 stock used, got %d", result.StocksUsed)
	}
}

func TestTrainModel_UnknownModel(t *testing.T) {
	env := newTrainingEnv(t)
	if _, err := env.svc.TrainModel(context.Background(), 12345); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTrainModel_RetrainAfterFailure(t *testing.T) {
	env := newTrainingEnv(t)
	ctx := context.Background()
	m := env.createARIMAModel(t, "recover", []int64{1}, false)

	if _, err := env.svc.TrainModel(ctx, m.ID); !errors.Is(err, ErrNoTrainingData) {
		t.Fatalf("expected first run to fail with ErrNoTrainingData, got %v", err)
	}

	// Data arrives; the failed model retrains to ready.
	env.seedPriceHistory(t, 1, 150)
	if _, err := env.svc.TrainModel(ctx, m.ID); err != nil {
		t.Fatalf("retrain failed: %v", err)
	}

	stored, _ := env.reg.GetModel(ctx, m.ID)
	if stored.Status != domain.StatusReady {
		t.Errorf("expected status ready after retrain, got %s", stored.Status)
	}
	runs, _ := env.reg.TrainingRuns(ctx, m.ID)
	if len(runs) != 2 {
		t.Errorf("expected 2 training runs, got %d", len(runs))
	}
}

func TestStoredFeatureNames_FiltersPriceColumns(t *testing.T) {
	fc := domain.FeatureConfig{
		TimeVaryingFeatures: []string{"close", "volume", "rsi_14", "macd_line"},
	}
	names := storedFeatureNames(fc)
	if len(names) != 2 || names[0] != "rsi_14" || names[1] != "macd_line" {
		t.Errorf("expected [rsi_14 macd_line], got %v", names)
	}
}
