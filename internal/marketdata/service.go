// Package marketdata assembles price and feature frames from storage for
// training and inference.
package marketdata

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"stock-prediction-lab/internal/dataset"
	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/features"
	"stock-prediction-lab/internal/observability"
	"stock-prediction-lab/internal/storage"
)

// ErrNoData is returned when a stock has no rows in the requested range.
var ErrNoData = fmt.Errorf("no market data in range")

// Service loads frames from the timeseries stores.
type Service struct {
	log      zerolog.Logger
	prices   storage.PriceStore
	features storage.FeatureStore
}

// Options for creating Service.
type Options struct {
	Logger       zerolog.Logger
	PriceStore   storage.PriceStore
	FeatureStore storage.FeatureStore
}

// New creates a new market data service.
func New(opts Options) *Service {
	return &Service{
		log:      opts.Logger,
		prices:   opts.PriceStore,
		features: opts.FeatureStore,
	}
}

// PriceFrame loads a stock's OHLCV frame for [start, end], sorted by date.
func (s *Service) PriceFrame(ctx context.Context, stockID int64, start, end time.Time) (*dataset.Frame, error) {
	queryStart := time.Now()
	bars, err := s.prices.GetRange(ctx, stockID, start, end)
	observability.RecordDBQuery("timeseries", "price_range", time.Since(queryStart).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("load price bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("stock %d: %w", stockID, ErrNoData)
	}
	return features.PriceFrame(bars), nil
}

// FeatureFrame loads stored feature values for a stock as a wide frame with
// one column per feature name. Gaps left by the pivot stay NaN; joining onto
// a price frame forward- then backward-fills them. An empty names slice
// loads all features.
func (s *Service) FeatureFrame(ctx context.Context, stockID int64, names []string, start, end time.Time) (*dataset.Frame, error) {
	queryStart := time.Now()
	records, err := s.features.GetRange(ctx, stockID, names, start, end)
	observability.RecordDBQuery("timeseries", "feature_range", time.Since(queryStart).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("load feature values: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("stock %d: %w", stockID, ErrNoData)
	}
	return pivot(records), nil
}

// WithFeatures loads the price frame joined with the named feature columns.
// The price dates drive the row set; feature values are aligned by date.
func (s *Service) WithFeatures(ctx context.Context, stockID int64, names []string, start, end time.Time) (*dataset.Frame, error) {
	priceFrame, err := s.PriceFrame(ctx, stockID, start, end)
	if err != nil {
		return nil, err
	}
	featureFrame, err := s.FeatureFrame(ctx, stockID, names, start, end)
	if err != nil {
		return nil, err
	}
	joined := priceFrame.Join(featureFrame)
	s.log.Debug().
		Int64("stock_id", stockID).
		Int("rows", joined.Len()).
		Int("columns", len(joined.ColumnNames())).
		Msg("assembled feature frame")
	return joined, nil
}

// pivot turns narrow (date, name, value) records into a wide frame.
func pivot(records []*domain.FeatureRecord) *dataset.Frame {
	dateIndex := make(map[int64]int)
	var dates []time.Time
	for _, r := range records {
		key := r.Timestamp.UnixMilli()
		if _, seen := dateIndex[key]; !seen {
			dateIndex[key] = 0
			dates = append(dates, r.Timestamp)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	for i, d := range dates {
		dateIndex[d.UnixMilli()] = i
	}

	columns := make(map[string][]float64)
	var order []string
	for _, r := range records {
		col, ok := columns[r.FeatureName]
		if !ok {
			col = make([]float64, len(dates))
			for i := range col {
				col[i] = math.NaN()
			}
			columns[r.FeatureName] = col
			order = append(order, r.FeatureName)
		}
		col[dateIndex[r.Timestamp.UnixMilli()]] = r.FeatureValue
	}
	sort.Strings(order)

	f := dataset.New(dates)
	for _, name := range order {
		f.SetColumn(name, columns[name])
	}
	return f
}
