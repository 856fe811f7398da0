// Package registry manages the model catalog: metadata, lifecycle status,
// training runs, feature importance and artifact persistence.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/model"
	"stock-prediction-lab/internal/storage"
)

// Registry errors
var (
	ErrUnknownArchitecture = errors.New("unknown model architecture")
	ErrInvalidTransition   = errors.New("invalid model status transition")
	ErrTrainingInProgress  = errors.New("training already in progress for model")
	ErrNoArtifact          = errors.New("model has no stored artifact")
)

// Registry coordinates model metadata, artifacts and training bookkeeping.
type Registry struct {
	log zerolog.Logger

	architectures storage.ArchitectureStore
	models        storage.ModelStore
	history       storage.TrainingHistoryStore
	importance    storage.FeatureImportanceStore
	artifacts     storage.ArtifactStore

	// Architecture catalog cache, loaded by Bootstrap. The set is sealed,
	// so the cache never invalidates.
	mu       sync.RWMutex
	byName   map[string]*domain.ModelArchitecture
	byID     map[int64]*domain.ModelArchitecture
	inFlight map[int64]struct{}

	now func() time.Time
}

// Options for creating Registry.
type Options struct {
	Logger zerolog.Logger

	// Required stores
	ArchitectureStore      storage.ArchitectureStore
	ModelStore             storage.ModelStore
	TrainingHistoryStore   storage.TrainingHistoryStore
	FeatureImportanceStore storage.FeatureImportanceStore
	ArtifactStore          storage.ArtifactStore

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a new Registry. Call Bootstrap before use.
func New(opts Options) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		log:           opts.Logger,
		architectures: opts.ArchitectureStore,
		models:        opts.ModelStore,
		history:       opts.TrainingHistoryStore,
		importance:    opts.FeatureImportanceStore,
		artifacts:     opts.ArtifactStore,
		byName:        make(map[string]*domain.ModelArchitecture),
		byID:          make(map[int64]*domain.ModelArchitecture),
		inFlight:      make(map[int64]struct{}),
		now:           now,
	}
}

// Bootstrap ensures the sealed architecture catalog exists in storage and
// loads it into the cache.
func (r *Registry) Bootstrap(ctx context.Context) error {
	for _, name := range []string{
		domain.ArchitectureARIMA,
		domain.ArchitectureLSTM,
		domain.ArchitectureTFT,
	} {
		err := r.architectures.Insert(ctx, &domain.ModelArchitecture{Name: name})
		if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("seed architecture %s: %w", name, err)
		}
	}

	list, err := r.architectures.List(ctx)
	if err != nil {
		return fmt.Errorf("load architecture catalog: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range list {
		r.byName[a.Name] = a
		r.byID[a.ID] = a
	}
	r.log.Debug().Int("architectures", len(list)).Msg("architecture catalog loaded")
	return nil
}

// Architecture resolves a cached architecture by name.
func (r *Registry) Architecture(name string) (*domain.ModelArchitecture, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	if !ok {
		return nil, ErrUnknownArchitecture
	}
	return a, nil
}

// ArchitectureByID resolves a cached architecture by ID.
func (r *Registry) ArchitectureByID(id int64) (*domain.ModelArchitecture, error) {
	a, ok := r.architectureByID(id)
	if !ok {
		return nil, ErrUnknownArchitecture
	}
	return a, nil
}

// CreateModel registers a new model under the named architecture with status
// created. The model's ID and architecture ID are assigned on return.
func (r *Registry) CreateModel(ctx context.Context, architecture string, m *domain.Model) error {
	a, err := r.Architecture(architecture)
	if err != nil {
		return err
	}
	m.ArchitectureID = a.ID
	m.Status = domain.StatusCreated
	if err := r.models.Insert(ctx, m); err != nil {
		return fmt.Errorf("create model: %w", err)
	}
	r.log.Info().
		Int64("model_id", m.ID).
		Str("architecture", architecture).
		Str("name", m.Name).
		Str("version", m.Version).
		Msg("model created")
	return nil
}

// GetModel retrieves a model by ID.
func (r *Registry) GetModel(ctx context.Context, id int64) (*domain.Model, error) {
	return r.models.GetByID(ctx, id)
}

// GetModelByNameVersion retrieves a model by (name, version).
func (r *Registry) GetModelByNameVersion(ctx context.Context, name, version string) (*domain.Model, error) {
	return r.models.GetByNameVersion(ctx, name, version)
}

// ListModels retrieves models for an architecture name, newest first. An
// empty name lists all models.
func (r *Registry) ListModels(ctx context.Context, architecture string) ([]*domain.Model, error) {
	var archID int64
	if architecture != "" {
		a, err := r.Architecture(architecture)
		if err != nil {
			return nil, err
		}
		archID = a.ID
	}
	return r.models.ListByArchitecture(ctx, archID)
}

// validTransitions holds the permitted lifecycle edges. A model may retrain
// from any terminal state, but ready is reachable only through StoreArtifact.
var validTransitions = map[domain.ModelStatus][]domain.ModelStatus{
	domain.StatusCreated:  {domain.StatusTraining},
	domain.StatusTraining: {domain.StatusReady, domain.StatusFailed},
	domain.StatusReady:    {domain.StatusTraining},
	domain.StatusFailed:   {domain.StatusTraining},
}

// TransitionStatus moves a model between lifecycle states, rejecting edges
// outside the permitted set.
func (r *Registry) TransitionStatus(ctx context.Context, id int64, to domain.ModelStatus) error {
	if !to.Valid() {
		return storage.ErrInvalidInput
	}
	m, err := r.models.GetByID(ctx, id)
	if err != nil {
		return err
	}
	allowed := false
	for _, next := range validTransitions[m.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, to)
	}
	if err := r.models.UpdateStatus(ctx, id, to); err != nil {
		return err
	}
	r.log.Info().Int64("model_id", id).Str("from", string(m.Status)).Str("to", string(to)).Msg("model status changed")
	return nil
}

// AcquireTraining claims the in-process training slot for a model. At most
// one training run per model may be in flight; concurrent attempts get
// ErrTrainingInProgress. Release with ReleaseTraining.
func (r *Registry) AcquireTraining(modelID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[modelID]; busy {
		return ErrTrainingInProgress
	}
	r.inFlight[modelID] = struct{}{}
	return nil
}

// ReleaseTraining frees the training slot claimed by AcquireTraining.
func (r *Registry) ReleaseTraining(modelID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, modelID)
}

// RecordTrainingStart opens a training run for a model.
func (r *Registry) RecordTrainingStart(ctx context.Context, modelID int64) (*domain.TrainingHistory, error) {
	run := &domain.TrainingHistory{
		ModelID:   modelID,
		StartTime: r.now().UTC(),
	}
	if err := r.history.Insert(ctx, run); err != nil {
		return nil, fmt.Errorf("record training start: %w", err)
	}
	return run, nil
}

// RecordTrainingEnd closes a training run with its terminal status.
func (r *Registry) RecordTrainingEnd(ctx context.Context, runID int64, status domain.TrainingStatus, metrics map[string]float64, errorMessage string) error {
	if err := r.history.Complete(ctx, runID, r.now().UTC(), status, metrics, errorMessage); err != nil {
		return fmt.Errorf("record training end: %w", err)
	}
	return nil
}

// TrainingRuns retrieves a model's training history, newest first.
func (r *Registry) TrainingRuns(ctx context.Context, modelID int64) ([]*domain.TrainingHistory, error) {
	return r.history.ListByModel(ctx, modelID)
}

// RecordImportance replaces a model's stored feature importance.
func (r *Registry) RecordImportance(ctx context.Context, modelID int64, scores model.Importance) error {
	rows := make([]*domain.FeatureImportance, 0, len(scores))
	for name, score := range scores {
		rows = append(rows, &domain.FeatureImportance{
			ModelID:         modelID,
			FeatureName:     name,
			ImportanceScore: score,
		})
	}
	if err := r.importance.ReplaceAll(ctx, modelID, rows); err != nil {
		return fmt.Errorf("record feature importance: %w", err)
	}
	return nil
}

// Importance retrieves a model's feature importance, highest score first.
func (r *Registry) Importance(ctx context.Context, modelID int64) ([]*domain.FeatureImportance, error) {
	return r.importance.GetByModel(ctx, modelID)
}

// StoreArtifact persists a trained artifact and promotes the model to ready.
// The status flip happens only after the blob write and path update succeed,
// so a ready model always has a loadable artifact.
func (r *Registry) StoreArtifact(ctx context.Context, m *domain.Model, a *model.Artifact) (string, error) {
	arch, ok := r.architectureByID(m.ArchitectureID)
	if !ok {
		return "", ErrUnknownArchitecture
	}

	data, err := a.Encode()
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s/%s/%s.bin", arch.Name, m.Name, m.Version, r.now().UTC().Format("20060102150405"))
	if err := r.artifacts.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	if err := r.models.UpdateArtifactPath(ctx, m.ID, key); err != nil {
		return "", fmt.Errorf("record artifact path: %w", err)
	}
	if err := r.models.UpdateStatus(ctx, m.ID, domain.StatusReady); err != nil {
		return "", fmt.Errorf("promote model to ready: %w", err)
	}
	m.ModelPath = key
	m.Status = domain.StatusReady

	r.log.Info().Int64("model_id", m.ID).Str("path", key).Int("bytes", len(data)).Msg("artifact stored")
	return key, nil
}

// LoadArtifact retrieves and decodes a model's stored artifact. Models that
// never completed training have no path and fail with ErrNoArtifact.
func (r *Registry) LoadArtifact(ctx context.Context, m *domain.Model) (*model.Artifact, error) {
	if m.ModelPath == "" {
		return nil, fmt.Errorf("model %d: %w", m.ID, ErrNoArtifact)
	}
	data, err := r.artifacts.Get(ctx, m.ModelPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("model %d: %w", m.ID, ErrNoArtifact)
		}
		return nil, fmt.Errorf("load artifact: %w", err)
	}
	return model.DecodeArtifact(data)
}

func (r *Registry) architectureByID(id int64) (*domain.ModelArchitecture, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	return a, ok
}
