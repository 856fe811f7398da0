package storage

import (
	"context"
	"time"

	"stock-prediction-lab/internal/domain"
)

// StockStore provides access to stocks storage.
type StockStore interface {
	// Insert adds a new stock. Returns ErrDuplicateKey if symbol exists.
	Insert(ctx context.Context, s *domain.Stock) error

	// GetByID retrieves a stock by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.Stock, error)

	// GetBySymbol retrieves a stock by symbol. Returns ErrNotFound if not exists.
	GetBySymbol(ctx context.Context, symbol string) (*domain.Stock, error)

	// ActiveIDs retrieves the IDs of all active stocks, ordered ascending.
	ActiveIDs(ctx context.Context) ([]int64, error)
}

// PriceStore provides access to daily price bar storage.
type PriceStore interface {
	// InsertBulk adds multiple bars. Re-inserting an existing
	// (stock_id, timestamp) replaces the stored bar.
	InsertBulk(ctx context.Context, bars []*domain.PriceBar) error

	// GetRange retrieves bars for a stock within [start, end] (inclusive),
	// ordered by timestamp ASC.
	GetRange(ctx context.Context, stockID int64, start, end time.Time) ([]*domain.PriceBar, error)
}

// FeatureStore provides access to computed feature value storage.
type FeatureStore interface {
	// InsertBulk adds multiple feature records. Re-inserting an existing
	// (stock_id, feature_name, timestamp) replaces the stored value.
	InsertBulk(ctx context.Context, records []*domain.FeatureRecord) error

	// GetRange retrieves records for a stock within [start, end] (inclusive),
	// ordered by timestamp ASC. An empty names slice retrieves all features.
	GetRange(ctx context.Context, stockID int64, names []string, start, end time.Time) ([]*domain.FeatureRecord, error)
}

// ArchitectureStore provides access to the model architecture catalog.
type ArchitectureStore interface {
	// Insert adds a new architecture. Returns ErrDuplicateKey if name exists.
	Insert(ctx context.Context, a *domain.ModelArchitecture) error

	// GetByName retrieves an architecture by name. Returns ErrNotFound if not exists.
	GetByName(ctx context.Context, name string) (*domain.ModelArchitecture, error)

	// List retrieves all architectures, ordered by ID ASC.
	List(ctx context.Context) ([]*domain.ModelArchitecture, error)
}

// ModelStore provides access to model metadata storage.
type ModelStore interface {
	// Insert adds a new model and assigns its ID.
	// Returns ErrDuplicateKey if (name, version) exists.
	Insert(ctx context.Context, m *domain.Model) error

	// GetByID retrieves a model by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.Model, error)

	// GetByNameVersion retrieves a model by (name, version). Returns ErrNotFound if not exists.
	GetByNameVersion(ctx context.Context, name, version string) (*domain.Model, error)

	// ListByArchitecture retrieves all models for an architecture, newest first.
	// A zero architectureID retrieves all models.
	ListByArchitecture(ctx context.Context, architectureID int64) ([]*domain.Model, error)

	// UpdateStatus sets the lifecycle status. Returns ErrNotFound if not exists,
	// ErrInvalidInput if the status is not a recognized lifecycle state.
	UpdateStatus(ctx context.Context, id int64, status domain.ModelStatus) error

	// UpdateArtifactPath records where the trained artifact was persisted.
	// Returns ErrNotFound if not exists.
	UpdateArtifactPath(ctx context.Context, id int64, path string) error
}

// TrainingHistoryStore provides access to training run records.
type TrainingHistoryStore interface {
	// Insert adds a new run with status running and assigns its ID.
	Insert(ctx context.Context, h *domain.TrainingHistory) error

	// Complete finalizes a run with its end time, terminal status, metrics
	// and optional error message. Returns ErrNotFound if not exists.
	Complete(ctx context.Context, id int64, endTime time.Time, status domain.TrainingStatus, metrics map[string]float64, errorMessage string) error

	// ListByModel retrieves all runs for a model, newest first.
	ListByModel(ctx context.Context, modelID int64) ([]*domain.TrainingHistory, error)
}

// FeatureImportanceStore provides access to per-model feature importance.
type FeatureImportanceStore interface {
	// ReplaceAll atomically replaces a model's importance rows.
	ReplaceAll(ctx context.Context, modelID int64, scores []*domain.FeatureImportance) error

	// GetByModel retrieves a model's importance rows, highest score first.
	GetByModel(ctx context.Context, modelID int64) ([]*domain.FeatureImportance, error)
}

// PredictionStore provides access to stored forecasts.
type PredictionStore interface {
	// InsertBulk adds multiple predictions.
	InsertBulk(ctx context.Context, preds []*domain.StockPrediction) error

	// GetRange retrieves predictions for a (model, stock) pair whose target
	// timestamp falls within [start, end] (inclusive), ordered by target
	// timestamp ASC. When several predictions share a target timestamp only
	// the most recently generated one is returned.
	GetRange(ctx context.Context, modelID, stockID int64, start, end time.Time) ([]*domain.StockPrediction, error)
}

// ArtifactStore provides access to serialized model artifact blobs.
type ArtifactStore interface {
	// Put persists an artifact blob under key, overwriting any existing blob.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the blob stored under key. Returns ErrNotFound if not exists.
	Get(ctx context.Context, key string) ([]byte, error)
}
