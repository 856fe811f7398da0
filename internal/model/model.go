// Package model implements the polymorphic training/inference contract and
// its three variants: ARIMA, LSTM and TemporalFusionTransformer.
package model

import (
	"context"
	"errors"
	"time"

	"stock-prediction-lab/internal/dataset"
	"stock-prediction-lab/internal/domain"
)

// Factory and training errors
var (
	ErrUnknownArchitecture = errors.New("unknown model architecture")
	ErrNotTrained          = errors.New("model has not been trained or loaded")
	ErrInsufficientData    = errors.New("not enough data points")
	ErrNoFeatures          = errors.New("feature config has no time-varying features")
)

// Metrics is a mapping of named numeric training diagnostics.
type Metrics map[string]float64

// Importance maps feature name to a normalized non-negative score.
type Importance map[string]float64

// Forecast holds horizon future dated rows with one predicted value per row,
// dates increasing from the last input date. Lower/Upper are nil when the
// variant supplies no explicit confidence bounds.
type Forecast struct {
	Dates  []time.Time
	Values []float64
	Lower  []float64
	Upper  []float64
}

// Model is the common contract over all architecture variants.
type Model interface {
	// Train fits parameters on train data. Validation metrics are present in
	// the returned metrics iff validation is non-nil. The returned importance
	// may be empty for architectures with no meaningful notion of it.
	Train(ctx context.Context, train, validation *dataset.Frame) (Metrics, Importance, error)

	// Predict produces a horizon-length forecast from the tail of data.
	Predict(ctx context.Context, data *dataset.Frame) (*Forecast, error)

	// Save returns an artifact sufficient to reconstruct prediction behavior.
	Save() (*Artifact, error)

	// FeatureImportance returns the last-computed importance, empty before training.
	FeatureImportance() Importance
}

// FromArchitecture constructs an untrained variant by architecture name.
// The architecture set is sealed; unknown names are rejected up front.
func FromArchitecture(name string, hp domain.Hyperparameters, fc domain.FeatureConfig) (Model, error) {
	switch name {
	case domain.ArchitectureARIMA:
		return NewARIMA(hp, fc), nil
	case domain.ArchitectureLSTM:
		return NewLSTM(hp, fc), nil
	case domain.ArchitectureTFT:
		return NewTFT(hp, fc), nil
	default:
		return nil, ErrUnknownArchitecture
	}
}

// Load restores a trained variant from an artifact. The result predicts
// immediately without retraining.
func Load(a *Artifact) (Model, error) {
	switch a.Architecture {
	case domain.ArchitectureARIMA:
		return loadARIMA(a)
	case domain.ArchitectureLSTM:
		return loadLSTM(a)
	case domain.ArchitectureTFT:
		return loadTFT(a)
	default:
		return nil, ErrUnknownArchitecture
	}
}

// forecastDates returns h consecutive daily dates after last.
func forecastDates(last time.Time, h int) []time.Time {
	dates := make([]time.Time, h)
	for i := 0; i < h; i++ {
		dates[i] = last.AddDate(0, 0, i+1)
	}
	return dates
}
