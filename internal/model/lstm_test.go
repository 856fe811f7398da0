package model

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"stock-prediction-lab/internal/domain"
)

// lstmHyper keeps the network tiny so tests stay fast.
func lstmHyper() domain.Hyperparameters {
	return domain.Hyperparameters{
		"lookback_window":  8,
		"forecast_horizon": 2,
		"hidden_size":      6,
		"num_layers":       2,
		"dropout":          0.1,
		"epochs":           3,
		"batch_size":       8,
		"learning_rate":    0.01,
		"seed":             7,
	}
}

func lstmFeatures() domain.FeatureConfig {
	return domain.FeatureConfig{TimeVaryingFeatures: []string{"close", "volume"}}
}

func TestLSTM_TrainProducesMetricsAndImportance(t *testing.T) {
	m := NewLSTM(lstmHyper(), lstmFeatures())
	train, val := trendFrame(80).SplitChronological(0.8)

	metrics, importance, err := m.Train(context.Background(), train, val)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	for _, key := range []string{"train_mse", "train_rmse", "val_mse", "val_rmse"} {
		v, ok := metrics[key]
		if !ok {
			t.Errorf("missing metric %s", key)
			continue
		}
		if math.IsNaN(v) || v < 0 {
			t.Errorf("metric %s invalid: %v", key, v)
		}
	}

	// Perturbation scores are non-negative and normalized.
	sum := 0.0
	for name, score := range importance {
		if score < 0 || score > 1 {
			t.Errorf("importance %s out of range: %v", name, score)
		}
		sum += score
	}
	if sum > 1+1e-9 {
		t.Errorf("importance sum exceeds 1: %v", sum)
	}
	if len(importance) != 2 {
		t.Errorf("expected scores for both features, got %v", importance)
	}
}

func TestLSTM_PredictShape(t *testing.T) {
	m := NewLSTM(lstmHyper(), lstmFeatures())
	frame := trendFrame(80)
	if _, _, err := m.Train(context.Background(), frame, nil); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	fc, err := m.Predict(context.Background(), frame)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(fc.Values) != 2 {
		t.Fatalf("expected horizon 2, got %d", len(fc.Values))
	}
	for i, v := range fc.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("non-finite forecast at %d: %v", i, v)
		}
	}
	lastDate := frame.Dates()[frame.Len()-1]
	if !fc.Dates[0].Equal(lastDate.AddDate(0, 0, 1)) {
		t.Errorf("forecast should start the day after the input ends")
	}
}

func TestLSTM_DeterministicWithSeed(t *testing.T) {
	frame := trendFrame(80)

	a := NewLSTM(lstmHyper(), lstmFeatures())
	if _, _, err := a.Train(context.Background(), frame, nil); err != nil {
		t.Fatalf("first Train failed: %v", err)
	}
	b := NewLSTM(lstmHyper(), lstmFeatures())
	if _, _, err := b.Train(context.Background(), frame, nil); err != nil {
		t.Fatalf("second Train failed: %v", err)
	}

	fa, err := a.Predict(context.Background(), frame)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	fb, err := b.Predict(context.Background(), frame)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for i := range fa.Values {
		if fa.Values[i] != fb.Values[i] {
			t.Errorf("same seed diverged at %d: %v vs %v", i, fa.Values[i], fb.Values[i])
		}
	}
}

func TestLSTM_SaveLoadRoundTrip(t *testing.T) {
	m := NewLSTM(lstmHyper(), lstmFeatures())
	frame := trendFrame(80)
	if _, _, err := m.Train(context.Background(), frame, nil); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	want, err := m.Predict(context.Background(), frame)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	artifact, err := m.Save()
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(artifact)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got, err := loaded.Predict(context.Background(), frame)
	if err != nil {
		t.Fatalf("loaded Predict failed: %v", err)
	}
	for i := range want.Values {
		if got.Values[i] != want.Values[i] {
			t.Errorf("forecast %d changed across save/load: %v vs %v", i, want.Values[i], got.Values[i])
		}
	}

	// Importance travels inside the artifact.
	if len(loaded.FeatureImportance()) != len(m.FeatureImportance()) {
		t.Errorf("importance lost across save/load")
	}
}

func TestLSTM_PredictInsufficientRows(t *testing.T) {
	m := NewLSTM(lstmHyper(), lstmFeatures())
	full := trendFrame(80)
	if _, _, err := m.Train(context.Background(), full, nil); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	short := full.Slice(0, 4)
	if _, err := m.Predict(context.Background(), short); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestLSTM_TrainTooFewRows(t *testing.T) {
	m := NewLSTM(lstmHyper(), lstmFeatures())
	_, _, err := m.Train(context.Background(), trendFrame(5), nil)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestLSTM_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewLSTM(lstmHyper(), lstmFeatures())
	if _, _, err := m.Train(ctx, trendFrame(80), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDropoutMasks_PreserveCachedActivations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	output := [][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}}
	// The recurrence cache aliases these slices in real use.
	cached := output[0]
	orig := [][]float64{copyVec(output[0]), copyVec(output[1])}

	masks := dropoutMasks(rng, output, 0.5)

	for k, v := range cached {
		if v != orig[0][k] {
			t.Fatalf("cached activation %d mutated: %v vs %v", k, v, orig[0][k])
		}
	}
	for step := range output {
		for k := range output[step] {
			if want := orig[step][k] * masks[step][k]; output[step][k] != want {
				t.Errorf("output[%d][%d] = %v, want %v", step, k, output[step][k], want)
			}
		}
	}
}
