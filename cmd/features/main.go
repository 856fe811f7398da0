// Package main runs the feature pipeline: optionally imports OHLCV bars from
// CSV, then computes technical indicators for stocks and stores them.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stock-prediction-lab/internal/config"
	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/features"
	"stock-prediction-lab/internal/logging"
	"stock-prediction-lab/internal/observability"
	"stock-prediction-lab/internal/storage"
	chstore "stock-prediction-lab/internal/storage/clickhouse"
	"stock-prediction-lab/internal/storage/migrations"
	pgstore "stock-prediction-lab/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	importCSV := flag.String("import", "", "CSV file of OHLCV bars to import before computing features")
	symbol := flag.String("symbol", "", "Stock symbol the imported CSV belongs to (registered if unknown)")
	days := flag.Int("days", 365, "How many days of price history to compute features over")
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

	if err := run(ctx, cfg, log, *importCSV, *symbol, *days); err != nil {
		log.Fatal().Err(err).Msg("feature pipeline failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, importCSV, symbol string, days int) error {
	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return err
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
	if err != nil {
		return err
	}
	defer conn.Close()

	stocks := pgstore.NewStockStore(pool)
	prices := chstore.NewPriceStore(conn)
	featureStore := chstore.NewFeatureStore(conn)

	if importCSV != "" {
		if symbol == "" {
			return fmt.Errorf("-import requires -symbol")
		}
		n, err := importBars(ctx, stocks, prices, importCSV, symbol)
		if err != nil {
			return fmt.Errorf("import %s: %w", importCSV, err)
		}
		log.Info().Str("symbol", symbol).Int("bars", n).Msg("price bars imported")
	}

	gen := features.NewGenerator(log)
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -(days + features.MaxLookbackDays))

	ids, err := stocks.ActiveIDs(ctx)
	if err != nil {
		return err
	}
	runStart := time.Now()
	for _, stockID := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		bars, err := prices.GetRange(ctx, stockID, start, end)
		if err != nil {
			log.Warn().Err(err).Int64("stock_id", stockID).Msg("load price bars")
			continue
		}
		if len(bars) == 0 {
			continue
		}

		frames := gen.Generate(features.PriceFrame(bars))
		records := features.Flatten(stockID, frames)
		if err := featureStore.InsertBulk(ctx, records); err != nil {
			log.Warn().Err(err).Int64("stock_id", stockID).Msg("store feature values")
			continue
		}
		log.Info().Int64("stock_id", stockID).Int("bars", len(bars)).Int("values", len(records)).Msg("features computed")
	}
	observability.DefaultMetrics.FeatureRunDuration.Observe(time.Since(runStart).Seconds())
	return nil
}

// importBars loads a CSV of date,open,high,low,close,adjusted_close,volume
// rows for one symbol. A header row is skipped when present.
func importBars(ctx context.Context, stocks storage.StockStore, prices storage.PriceStore, path, symbol string) (int, error) {
	stock, err := stocks.GetBySymbol(ctx, symbol)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return 0, err
		}
		stock = &domain.Stock{Symbol: symbol, Active: true}
		if err := stocks.Insert(ctx, stock); err != nil {
			return 0, err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	var bars []*domain.PriceBar
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if len(rec) < 7 {
			return 0, fmt.Errorf("expected 7 columns, got %d", len(rec))
		}
		if strings.EqualFold(rec[0], "date") {
			continue
		}
		ts, err := time.Parse("2006-01-02", rec[0])
		if err != nil {
			return 0, fmt.Errorf("parse date %q: %w", rec[0], err)
		}
		vals := make([]float64, 6)
		for i := 0; i < 6; i++ {
			vals[i], err = strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return 0, fmt.Errorf("parse column %d: %w", i+1, err)
			}
		}
		bars = append(bars, &domain.PriceBar{
			StockID:       stock.ID,
			Timestamp:     ts.UTC(),
			Open:          vals[0],
			High:          vals[1],
			Low:           vals[2],
			Close:         vals[3],
			AdjustedClose: vals[4],
			Volume:        vals[5],
		})
	}

	if err := prices.InsertBulk(ctx, bars); err != nil {
		return 0, err
	}
	observability.DefaultMetrics.PriceBarsStored.Add(float64(len(bars)))
	return len(bars), nil
}
