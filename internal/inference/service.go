// Package inference generates forecasts from trained models, persists and
// publishes them, and compares model accuracy against realized prices.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stock-prediction-lab/internal/dataset"
	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/marketdata"
	"stock-prediction-lab/internal/model"
	"stock-prediction-lab/internal/observability"
	"stock-prediction-lab/internal/registry"
	"stock-prediction-lab/internal/storage"
)

// Inference errors
var (
	ErrModelNotReady = errors.New("model is not ready for inference")
)

// defaultConfidenceMargin bounds predictions at ±5% when the architecture
// supplies no explicit interval.
const defaultConfidenceMargin = 0.05

// Publisher emits generated predictions to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, preds []*domain.StockPrediction) error
}

// Service generates and evaluates predictions.
type Service struct {
	log         zerolog.Logger
	reg         *registry.Registry
	market      *marketdata.Service
	predictions storage.PredictionStore
	publisher   Publisher
	now         func() time.Time
}

// Options for creating Service.
type Options struct {
	Logger     zerolog.Logger
	Registry   *registry.Registry
	MarketData *marketdata.Service

	// Optional sinks. A nil PredictionStore skips persistence, a nil
	// Publisher skips publishing.
	PredictionStore storage.PredictionStore
	Publisher       Publisher

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a new inference service.
func New(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		log:         opts.Logger,
		reg:         opts.Registry,
		market:      opts.MarketData,
		predictions: opts.PredictionStore,
		publisher:   opts.Publisher,
		now:         now,
	}
}

// GeneratePredictions produces a horizon of predictions for one stock from a
// ready model. The readiness check runs before any artifact I/O so requests
// against untrained models fail fast.
func (s *Service) GeneratePredictions(ctx context.Context, modelID, stockID int64) ([]*domain.StockPrediction, error) {
	started := s.now()

	m, err := s.reg.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusReady {
		observability.RecordInferenceError("model_not_ready")
		return nil, fmt.Errorf("model %d has status %s: %w", modelID, m.Status, ErrModelNotReady)
	}

	artifact, err := s.reg.LoadArtifact(ctx, m)
	if err != nil {
		observability.RecordInferenceError("artifact_load")
		return nil, err
	}
	mdl, err := model.Load(artifact)
	if err != nil {
		observability.RecordInferenceError("artifact_load")
		return nil, err
	}

	frame, err := s.inputFrame(ctx, m, stockID)
	if err != nil {
		observability.RecordInferenceError("input_data")
		return nil, err
	}

	forecast, err := mdl.Predict(ctx, frame)
	if err != nil {
		observability.RecordInferenceError("predict")
		return nil, fmt.Errorf("predict stock %d with model %d: %w", stockID, modelID, err)
	}

	preds := s.toPredictions(m, stockID, forecast)
	if s.predictions != nil {
		if err := s.predictions.InsertBulk(ctx, preds); err != nil {
			observability.RecordInferenceError("persist")
			return nil, fmt.Errorf("persist predictions: %w", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, preds); err != nil {
			observability.RecordInferenceError("publish")
			return nil, fmt.Errorf("publish predictions: %w", err)
		}
	}

	observability.RecordPredictions(s.architectureName(m), len(preds), s.now().Sub(started).Seconds())
	observability.DefaultMetrics.LastSuccessfulInference.Set(float64(s.now().Unix()))

	s.log.Info().
		Int64("model_id", modelID).
		Int64("stock_id", stockID).
		Int("predictions", len(preds)).
		Msg("predictions generated")
	return preds, nil
}

// BatchResult summarizes a multi-stock prediction run.
type BatchResult struct {
	Predictions []*domain.StockPrediction
	Succeeded   int
	Failed      int
	Errors      map[int64]error // keyed by stock ID
}

// BatchPredictions runs GeneratePredictions across stocks, isolating
// per-stock failures.
func (s *Service) BatchPredictions(ctx context.Context, modelID int64, stockIDs []int64) (*BatchResult, error) {
	result := &BatchResult{Errors: make(map[int64]error)}
	for _, stockID := range stockIDs {
		preds, err := s.GeneratePredictions(ctx, modelID, stockID)
		if err != nil {
			// A model that is not ready fails the whole batch; per-stock
			// data problems only fail that stock.
			if errors.Is(err, ErrModelNotReady) {
				return nil, err
			}
			s.log.Warn().Err(err).Int64("stock_id", stockID).Msg("batch prediction failed for stock")
			result.Errors[stockID] = err
			result.Failed++
			continue
		}
		result.Predictions = append(result.Predictions, preds...)
		result.Succeeded++
	}
	return result, nil
}

// architectureName resolves the model's architecture for metric labels.
func (s *Service) architectureName(m *domain.Model) string {
	arch, err := s.reg.ArchitectureByID(m.ArchitectureID)
	if err != nil {
		return "unknown"
	}
	return arch.Name
}

// inputFrame loads twice the lookback window of history so indicators and
// windowing have enough runway.
func (s *Service) inputFrame(ctx context.Context, m *domain.Model, stockID int64) (*dataset.Frame, error) {
	lookback := m.Hyperparameters.Int("lookback_window", 60)
	end := s.now().UTC()
	start := end.AddDate(0, 0, -2*lookback)

	names := storedFeatureNames(m.FeatureConfig)
	if len(names) == 0 {
		return s.market.PriceFrame(ctx, stockID, start, end)
	}
	return s.market.WithFeatures(ctx, stockID, names, start, end)
}

func (s *Service) toPredictions(m *domain.Model, stockID int64, f *model.Forecast) []*domain.StockPrediction {
	generated := s.now().UTC()
	preds := make([]*domain.StockPrediction, len(f.Values))
	for i, v := range f.Values {
		lower := v * (1 - defaultConfidenceMargin)
		upper := v * (1 + defaultConfidenceMargin)
		if f.Lower != nil {
			lower = f.Lower[i]
		}
		if f.Upper != nil {
			upper = f.Upper[i]
		}
		preds[i] = &domain.StockPrediction{
			ModelID:             m.ID,
			StockID:             stockID,
			PredictionTimestamp: generated,
			TargetTimestamp:     f.Dates[i],
			PredictedValue:      v,
			ConfidenceLower:     lower,
			ConfidenceUpper:     upper,
		}
	}
	return preds
}

// storedFeatureNames filters configured features to those held in the
// feature store rather than on price bars.
func storedFeatureNames(fc domain.FeatureConfig) []string {
	priceCols := map[string]struct{}{
		"open": {}, "high": {}, "low": {}, "close": {},
		"adjusted_close": {}, "volume": {},
	}
	var names []string
	for _, name := range fc.TimeVaryingFeatures {
		if _, isPrice := priceCols[name]; !isPrice {
			names = append(names, name)
		}
	}
	return names
}
