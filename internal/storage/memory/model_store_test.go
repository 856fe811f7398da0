package memory

import (
	"context"
	"errors"
	"testing"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/storage"
)

func TestModelStore_InsertAndGet(t *testing.T) {
	store := NewModelStore()
	ctx := context.Background()

	m := &domain.Model{
		Name:            "aapl-lstm",
		Version:         "v1",
		ArchitectureID:  2,
		Status:          domain.StatusCreated,
		Hyperparameters: domain.Hyperparameters{"epochs": 50},
		FeatureConfig:   domain.FeatureConfig{TimeVaryingFeatures: []string{"close", "rsi_14"}},
	}
	if err := store.Insert(ctx, m); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if m.ID == 0 {
		t.Fatal("ID not assigned")
	}
	if m.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	got, err := store.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Name != "aapl-lstm" || got.Hyperparameters["epochs"] != 50 {
		t.Errorf("stored model differs: %+v", got)
	}

	byNV, err := store.GetByNameVersion(ctx, "aapl-lstm", "v1")
	if err != nil {
		t.Fatalf("GetByNameVersion failed: %v", err)
	}
	if byNV.ID != m.ID {
		t.Errorf("expected ID %d, got %d", m.ID, byNV.ID)
	}
}

func TestModelStore_DuplicateNameVersion(t *testing.T) {
	store := NewModelStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.Model{Name: "m", Version: "v1"}); err != nil {
		t.Fatalf("first Insert failed: %v", err)
	}
	err := store.Insert(ctx, &domain.Model{Name: "m", Version: "v1"})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	// A new version of the same name is fine.
	if err := store.Insert(ctx, &domain.Model{Name: "m", Version: "v2"}); err != nil {
		t.Errorf("second version rejected: %v", err)
	}
}

func TestModelStore_GetMissing(t *testing.T) {
	store := NewModelStore()
	if _, err := store.GetByID(context.Background(), 99); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestModelStore_UpdateStatus(t *testing.T) {
	store := NewModelStore()
	ctx := context.Background()

	m := &domain.Model{Name: "m", Version: "v1", Status: domain.StatusCreated}
	if err := store.Insert(ctx, m); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := store.UpdateStatus(ctx, m.ID, domain.StatusTraining); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	got, _ := store.GetByID(ctx, m.ID)
	if got.Status != domain.StatusTraining {
		t.Errorf("expected training, got %s", got.Status)
	}

	if err := store.UpdateStatus(ctx, m.ID, "bogus"); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown status, got %v", err)
	}
	if err := store.UpdateStatus(ctx, 99, domain.StatusTraining); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestModelStore_UpdateArtifactPath(t *testing.T) {
	store := NewModelStore()
	ctx := context.Background()

	m := &domain.Model{Name: "m", Version: "v1"}
	if err := store.Insert(ctx, m); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.UpdateArtifactPath(ctx, m.ID, "ARIMA/m/v1/20240601000000.bin"); err != nil {
		t.Fatalf("UpdateArtifactPath failed: %v", err)
	}
	got, _ := store.GetByID(ctx, m.ID)
	if got.ModelPath != "ARIMA/m/v1/20240601000000.bin" {
		t.Errorf("path not stored: %s", got.ModelPath)
	}
}

func TestModelStore_ListByArchitecture(t *testing.T) {
	store := NewModelStore()
	ctx := context.Background()

	for i, arch := range []int64{1, 2, 1} {
		m := &domain.Model{Name: "m", Version: string(rune('a' + i)), ArchitectureID: arch}
		if err := store.Insert(ctx, m); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	arch1, err := store.ListByArchitecture(ctx, 1)
	if err != nil {
		t.Fatalf("ListByArchitecture failed: %v", err)
	}
	if len(arch1) != 2 {
		t.Errorf("expected 2 models for architecture 1, got %d", len(arch1))
	}

	all, err := store.ListByArchitecture(ctx, 0)
	if err != nil {
		t.Fatalf("ListByArchitecture(0) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected all 3 models, got %d", len(all))
	}
}

func TestModelStore_CloneIsolation(t *testing.T) {
	store := NewModelStore()
	ctx := context.Background()

	m := &domain.Model{
		Name:            "m",
		Version:         "v1",
		Hyperparameters: domain.Hyperparameters{"epochs": 10},
	}
	if err := store.Insert(ctx, m); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Mutating the returned copy must not leak into the store.
	got, _ := store.GetByID(ctx, m.ID)
	got.Hyperparameters["epochs"] = 999

	again, _ := store.GetByID(ctx, m.ID)
	if again.Hyperparameters["epochs"] != 10 {
		t.Errorf("store state mutated through returned copy: %v", again.Hyperparameters)
	}
}
