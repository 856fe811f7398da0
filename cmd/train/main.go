// Package main registers and trains prediction models.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"stock-prediction-lab/internal/config"
	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/logging"
	"stock-prediction-lab/internal/marketdata"
	"stock-prediction-lab/internal/observability"
	"stock-prediction-lab/internal/registry"
	chstore "stock-prediction-lab/internal/storage/clickhouse"
	"stock-prediction-lab/internal/storage/fsblob"
	"stock-prediction-lab/internal/storage/migrations"
	pgstore "stock-prediction-lab/internal/storage/postgres"
	"stock-prediction-lab/internal/training"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	modelID := flag.Int64("model-id", 0, "Existing model ID to train")
	create := flag.Bool("create", false, "Create a new model before training")
	arch := flag.String("architecture", "", "Architecture name for -create (ARIMA, LSTM, TemporalFusionTransformer)")
	name := flag.String("name", "", "Model name for -create")
	version := flag.String("version", "v1", "Model version for -create")
	hyper := flag.String("hyperparameters", "{}", "Hyperparameters JSON for -create")
	featureList := flag.String("features", "close", "Comma-separated time-varying feature columns for -create")
	stockList := flag.String("stocks", "", "Comma-separated stock IDs for -create (empty with -all-stocks)")
	allStocks := flag.Bool("all-stocks", false, "Train on all active stocks")
	split := flag.Float64("train-split", 0.8, "Chronological train/validation split ratio")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := observability.ListenAndServe(cfg.Metrics.Addr); err != nil {
				log.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("run postgres migrations")
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("run clickhouse migrations")
	}
	defer conn.Close()

	artifacts, err := fsblob.NewArtifactStore(cfg.Artifacts.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("open artifact store")
	}

	reg := registry.New(registry.Options{
		Logger:                 log,
		ArchitectureStore:      pgstore.NewArchitectureStore(pool),
		ModelStore:             pgstore.NewModelStore(pool),
		TrainingHistoryStore:   pgstore.NewTrainingHistoryStore(pool),
		FeatureImportanceStore: pgstore.NewFeatureImportanceStore(pool),
		ArtifactStore:          artifacts,
	})
	if err := reg.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("bootstrap registry")
	}

	market := marketdata.New(marketdata.Options{
		Logger:       log,
		PriceStore:   chstore.NewPriceStore(conn),
		FeatureStore: chstore.NewFeatureStore(conn),
	})

	trainer := training.New(training.Options{
		Logger:     log,
		Registry:   reg,
		MarketData: market,
		StockStore: pgstore.NewStockStore(pool),
	})

	id := *modelID
	if *create {
		m, err := createModel(ctx, reg, *arch, *name, *version, *hyper, *featureList, *stockList, *allStocks, *split)
		if err != nil {
			log.Fatal().Err(err).Msg("create model")
		}
		id = m.ID
	}
	if id == 0 {
		log.Fatal().Msg("either -model-id or -create is required")
	}

	result, err := trainer.TrainModel(ctx, id)
	if err != nil {
		log.Fatal().Err(err).Int64("model_id", id).Msg("training failed")
	}

	log.Info().
		Int64("model_id", result.ModelID).
		Str("artifact", result.ArtifactPath).
		Int("stocks", result.StocksUsed).
		Msg("training complete")
	for k, v := range result.Metrics {
		log.Info().Str("metric", k).Float64("value", v).Msg("training metric")
	}
}

func createModel(ctx context.Context, reg *registry.Registry, arch, name, version, hyperJSON, featureList, stockList string, allStocks bool, split float64) (*domain.Model, error) {
	if arch == "" || name == "" {
		return nil, fmt.Errorf("-create requires -architecture and -name")
	}

	var hp domain.Hyperparameters
	if err := json.Unmarshal([]byte(hyperJSON), &hp); err != nil {
		return nil, fmt.Errorf("parse hyperparameters: %w", err)
	}

	var stockIDs []int64
	if stockList != "" {
		for _, part := range strings.Split(stockList, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse stock id %q: %w", part, err)
			}
			stockIDs = append(stockIDs, id)
		}
	}

	m := &domain.Model{
		Name:            name,
		Version:         version,
		Hyperparameters: hp,
		FeatureConfig: domain.FeatureConfig{
			TimeVaryingFeatures: strings.Split(featureList, ","),
		},
		DatasetConfig: domain.TrainingDatasetConfig{
			TrainSplit: split,
			StockIDs:   stockIDs,
			AllStocks:  allStocks,
		},
	}
	if err := reg.CreateModel(ctx, arch, m); err != nil {
		return nil, err
	}
	return m, nil
}
