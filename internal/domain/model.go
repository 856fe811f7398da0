package domain

import "time"

// Supported architecture names. The set is closed: the model factory
// rejects anything outside it before any state mutation.
const (
	ArchitectureARIMA = "ARIMA"
	ArchitectureLSTM  = "LSTM"
	ArchitectureTFT   = "TemporalFusionTransformer"
)

// ModelArchitecture is a catalog entry for a model family.
// Corresponds to model_architectures table in PostgreSQL. Static reference data.
type ModelArchitecture struct {
	ID   int64
	Name string
}

// ModelStatus is the training lifecycle state of a model.
type ModelStatus string

// Valid model statuses: created → training → {ready | failed}.
const (
	StatusCreated  ModelStatus = "created"
	StatusTraining ModelStatus = "training"
	StatusReady    ModelStatus = "ready"
	StatusFailed   ModelStatus = "failed"
)

// Valid reports whether s is a member of the enumerated status set.
func (s ModelStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusTraining, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Hyperparameters holds named numeric model settings.
// Stored as JSONB in PostgreSQL.
type Hyperparameters map[string]float64

// Float returns the value for key, or def if absent.
func (h Hyperparameters) Float(key string, def float64) float64 {
	if v, ok := h[key]; ok {
		return v
	}
	return def
}

// Int returns the value for key truncated to int, or def if absent.
func (h Hyperparameters) Int(key string, def int) int {
	if v, ok := h[key]; ok {
		return int(v)
	}
	return def
}

// FeatureConfig describes which feature series a model consumes.
// Stored as JSONB in PostgreSQL.
type FeatureConfig struct {
	StaticFeatures      []string `json:"static_features,omitempty"`
	TimeVaryingFeatures []string `json:"time_varying_features"`
}

// TrainingDatasetConfig describes how the orchestrator assembles training data.
// An empty StockIDs with AllStocks=false means the caller must supply stocks.
type TrainingDatasetConfig struct {
	TrainSplit float64 `json:"train_test_split"` // chronological split ratio, default 0.8
	StockIDs   []int64 `json:"stock_ids,omitempty"`
	AllStocks  bool    `json:"all_stocks,omitempty"`
}

// Model is a versioned model record.
// Corresponds to models table in PostgreSQL. Unique on (name, version).
type Model struct {
	ID              int64
	ArchitectureID  int64
	Name            string
	Version         string
	Hyperparameters Hyperparameters
	FeatureConfig   FeatureConfig
	DatasetConfig   TrainingDatasetConfig
	Status          ModelStatus
	ModelPath       string // artifact key; empty until a trained artifact is stored
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TrainingStatus is the state of one training attempt.
type TrainingStatus string

const (
	TrainingRunning   TrainingStatus = "running"
	TrainingCompleted TrainingStatus = "completed"
	TrainingFailed    TrainingStatus = "failed"
)

// TrainingHistory is one row per training attempt, append-only.
type TrainingHistory struct {
	ID           int64
	ModelID      int64
	StartTime    time.Time
	EndTime      *time.Time // nil while running
	Status       TrainingStatus
	Metrics      map[string]float64
	ErrorMessage string
}

// FeatureImportance is one normalized importance score for a model input.
// The full set is replaced wholesale on each successful training.
type FeatureImportance struct {
	ModelID         int64
	FeatureName     string
	ImportanceScore float64
}

// StockPrediction is one forecasted value, append-only.
// Multiple predictions may target the same (model_id, stock_id, target_timestamp)
// at different prediction timestamps; consumers take the most recent.
type StockPrediction struct {
	ModelID             int64
	StockID             int64
	PredictionTimestamp time.Time
	TargetTimestamp     time.Time
	PredictedValue      float64
	ConfidenceLower     float64
	ConfidenceUpper     float64
}
