// Package main generates predictions from trained models and compares model
// accuracy against realized prices.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"stock-prediction-lab/internal/config"
	"stock-prediction-lab/internal/inference"
	"stock-prediction-lab/internal/logging"
	"stock-prediction-lab/internal/marketdata"
	"stock-prediction-lab/internal/observability"
	"stock-prediction-lab/internal/registry"
	chstore "stock-prediction-lab/internal/storage/clickhouse"
	"stock-prediction-lab/internal/storage/fsblob"
	pgstore "stock-prediction-lab/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	modelID := flag.Int64("model-id", 0, "Model to predict with")
	stockList := flag.String("stocks", "", "Comma-separated stock IDs to predict for")
	compareList := flag.String("compare", "", "Comma-separated model IDs to compare instead of predicting")
	stockID := flag.Int64("stock-id", 0, "Stock ID for -compare")
	daysBack := flag.Int("days", 30, "Evaluation window in days for -compare")
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

	conn, err := chstore.NewConn(ctx, cfg.ClickHouse.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect clickhouse")
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

	var publisher inference.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := inference.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		publisher = kp
	}

	svc := inference.New(inference.Options{
		Logger:          log,
		Registry:        reg,
		MarketData:      market,
		PredictionStore: pgstore.NewPredictionStore(pool),
		Publisher:       publisher,
	})

	if *compareList != "" {
		if err := runCompare(ctx, svc, *compareList, *stockID, *daysBack); err != nil {
			log.Fatal().Err(err).Msg("comparison failed")
		}
		return
	}

	if *modelID == 0 || *stockList == "" {
		log.Fatal().Msg("-model-id and -stocks are required (or use -compare)")
	}
	stockIDs, err := parseIDs(*stockList)
	if err != nil {
		log.Fatal().Err(err).Msg("parse -stocks")
	}

	result, err := svc.BatchPredictions(ctx, *modelID, stockIDs)
	if err != nil {
		log.Fatal().Err(err).Msg("prediction failed")
	}
	log.Info().
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("predictions", len(result.Predictions)).
		Msg("batch predictions complete")
	for _, p := range result.Predictions {
		fmt.Printf("model=%d stock=%d target=%s value=%.4f bounds=[%.4f, %.4f]\n",
			p.ModelID, p.StockID, p.TargetTimestamp.Format("2006-01-02"),
			p.PredictedValue, p.ConfidenceLower, p.ConfidenceUpper)
	}
}

func runCompare(ctx context.Context, svc *inference.Service, compareList string, stockID int64, daysBack int) error {
	if stockID == 0 {
		return fmt.Errorf("-compare requires -stock-id")
	}
	modelIDs, err := parseIDs(compareList)
	if err != nil {
		return fmt.Errorf("parse -compare: %w", err)
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -daysBack)
	cmp, err := svc.Compare(ctx, modelIDs, stockID, start, end)
	if err != nil {
		return err
	}

	fmt.Printf("stock=%d window=%s..%s\n", stockID, start.Format("2006-01-02"), end.Format("2006-01-02"))
	for rank, acc := range cmp.Models {
		fmt.Printf("%d. model=%d samples=%d mae=%.4f rmse=%.4f mape=%.2f%% dir_acc=%.2f%% sharpe=%.3f\n",
			rank+1, acc.ModelID, acc.Samples, acc.MAE, acc.RMSE, acc.MAPE,
			acc.DirectionalAccuracy*100, acc.SharpeRatio)
	}
	if best := cmp.Best(); best != nil {
		fmt.Printf("best: model=%d\n", best.ModelID)
	}
	return nil
}

func parseIDs(list string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(list, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
