// Package training orchestrates model training runs: dataset assembly,
// fitting, artifact persistence and bookkeeping.
package training

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

// ErrNoTrainingData is returned when no stock in the dataset config yields a
// usable frame.
var ErrNoTrainingData = errors.New("no training data available")

// defaultTrainSplit is used when the dataset config does not set one.
const defaultTrainSplit = 0.8

// priceColumns are supplied by the price frame itself and never queried from
// the feature store.
var priceColumns = map[string]struct{}{
	"open": {}, "high": {}, "low": {}, "close": {},
	"adjusted_close": {}, "volume": {},
}

// Service runs training end to end for registered models.
type Service struct {
	log    zerolog.Logger
	reg    *registry.Registry
	market *marketdata.Service
	stocks storage.StockStore
	now    func() time.Time
}

// Options for creating Service.
type Options struct {
	Logger     zerolog.Logger
	Registry   *registry.Registry
	MarketData *marketdata.Service
	StockStore storage.StockStore

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a new training service.
func New(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		log:    opts.Logger,
		reg:    opts.Registry,
		market: opts.MarketData,
		stocks: opts.StockStore,
		now:    now,
	}
}

// Result summarizes a completed training run.
type Result struct {
	ModelID      int64
	RunID        int64
	ArtifactPath string
	Metrics      model.Metrics
	StocksUsed   int
}

// TrainModel runs a full training cycle for the model: claims the per-model
// training slot, assembles the dataset, fits, persists the artifact and
// records the outcome. The model ends in status ready only when the artifact
// write succeeded; every failure path ends in status failed with the error
// recorded on the training run.
func (s *Service) TrainModel(ctx context.Context, modelID int64) (*Result, error) {
	m, err := s.reg.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	arch, err := s.reg.ArchitectureByID(m.ArchitectureID)
	if err != nil {
		return nil, err
	}

	if err := s.reg.AcquireTraining(modelID); err != nil {
		return nil, err
	}
	defer s.reg.ReleaseTraining(modelID)

	if err := s.reg.TransitionStatus(ctx, modelID, domain.StatusTraining); err != nil {
		return nil, err
	}

	run, err := s.reg.RecordTrainingStart(ctx, modelID)
	if err != nil {
		return nil, err
	}

	started := s.now()
	result, err := s.train(ctx, m, arch, run)
	elapsed := s.now().Sub(started).Seconds()
	if err != nil {
		s.fail(ctx, modelID, run.ID, err)
		observability.RecordTrainingRun(arch.Name, string(domain.TrainingFailed), elapsed)
		return nil, err
	}
	observability.RecordTrainingRun(arch.Name, string(domain.TrainingCompleted), elapsed)
	observability.DefaultMetrics.LastSuccessfulTraining.Set(float64(s.now().Unix()))
	return result, nil
}

// fail records the terminal failed state. Bookkeeping errors here are logged
// rather than returned so the original training error survives.
func (s *Service) fail(ctx context.Context, modelID, runID int64, cause error) {
	if err := s.reg.RecordTrainingEnd(ctx, runID, domain.TrainingFailed, nil, cause.Error()); err != nil {
		s.log.Error().Err(err).Int64("model_id", modelID).Msg("record training failure")
	}
	if err := s.reg.TransitionStatus(ctx, modelID, domain.StatusFailed); err != nil {
		s.log.Error().Err(err).Int64("model_id", modelID).Msg("mark model failed")
	}
}

func (s *Service) train(ctx context.Context, m *domain.Model, arch *domain.ModelArchitecture, run *domain.TrainingHistory) (*Result, error) {
	frame, stocksUsed, err := s.assembleDataset(ctx, m)
	if err != nil {
		return nil, err
	}
	observability.DefaultMetrics.TrainingDatasetRows.Observe(float64(frame.Len()))

	split := m.DatasetConfig.TrainSplit
	if split <= 0 || split >= 1 {
		split = defaultTrainSplit
	}
	trainFrame, valFrame := frame.SplitChronological(split)
	if valFrame.Len() == 0 {
		valFrame = nil
	}

	mdl, err := model.FromArchitecture(arch.Name, m.Hyperparameters, m.FeatureConfig)
	if err != nil {
		return nil, err
	}

	started := s.now()
	metrics, importance, err := mdl.Train(ctx, trainFrame, valFrame)
	if err != nil {
		return nil, fmt.Errorf("train %s model %d: %w", arch.Name, m.ID, err)
	}
	s.log.Info().
		Int64("model_id", m.ID).
		Str("architecture", arch.Name).
		Int("rows", frame.Len()).
		Dur("elapsed", s.now().Sub(started)).
		Msg("model fitted")

	artifact, err := mdl.Save()
	if err != nil {
		return nil, err
	}
	path, err := s.reg.StoreArtifact(ctx, m, artifact)
	if err != nil {
		return nil, err
	}

	if len(importance) > 0 {
		if err := s.reg.RecordImportance(ctx, m.ID, importance); err != nil {
			return nil, err
		}
	}
	if err := s.reg.RecordTrainingEnd(ctx, run.ID, domain.TrainingCompleted, metrics, ""); err != nil {
		return nil, err
	}

	return &Result{
		ModelID:      m.ID,
		RunID:        run.ID,
		ArtifactPath: path,
		Metrics:      metrics,
		StocksUsed:   stocksUsed,
	}, nil
}

// assembleDataset loads each configured stock's joined frame and concatenates
// them chronologically. Individual stocks failing to load are skipped; only
// an entirely empty dataset is an error.
func (s *Service) assembleDataset(ctx context.Context, m *domain.Model) (*dataset.Frame, int, error) {
	stockIDs, err := s.resolveStocks(ctx, m.DatasetConfig)
	if err != nil {
		return nil, 0, err
	}

	lookback := m.Hyperparameters.Int("lookback_window", 60)
	horizon := m.Hyperparameters.Int("forecast_horizon", 5)
	days := lookback + lookback/2 + 10*horizon
	end := s.now().UTC()
	start := end.AddDate(0, 0, -days)

	featureNames := storedFeatureNames(m.FeatureConfig)

	var frames []*dataset.Frame
	for _, stockID := range stockIDs {
		frame, err := s.loadStock(ctx, stockID, featureNames, start, end)
		if err != nil {
			s.log.Warn().Err(err).Int64("stock_id", stockID).Msg("skipping stock")
			continue
		}
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		return nil, 0, ErrNoTrainingData
	}

	combined := dataset.Concat(frames...)
	combined.SortByDate()
	combined = combined.DropLeadingNaN(m.FeatureConfig.TimeVaryingFeatures)
	if combined.Len() == 0 {
		return nil, 0, ErrNoTrainingData
	}
	return combined, len(frames), nil
}

func (s *Service) loadStock(ctx context.Context, stockID int64, featureNames []string, start, end time.Time) (*dataset.Frame, error) {
	if len(featureNames) == 0 {
		return s.market.PriceFrame(ctx, stockID, start, end)
	}
	return s.market.WithFeatures(ctx, stockID, featureNames, start, end)
}

// resolveStocks expands the dataset config into concrete stock IDs.
func (s *Service) resolveStocks(ctx context.Context, cfg domain.TrainingDatasetConfig) ([]int64, error) {
	if cfg.AllStocks {
		ids, err := s.stocks.ActiveIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve active stocks: %w", err)
		}
		return ids, nil
	}
	return cfg.StockIDs, nil
}

// storedFeatureNames filters the configured time-varying features down to
// those that live in the feature store rather than on the price bar itself.
func storedFeatureNames(fc domain.FeatureConfig) []string {
	var names []string
	for _, name := range fc.TimeVaryingFeatures {
		if _, isPrice := priceColumns[name]; !isPrice {
			names = append(names, name)
		}
	}
	return names
}
