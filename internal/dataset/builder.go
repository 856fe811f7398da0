package dataset

import (
	"errors"
	"fmt"
)

// Builder errors
var (
	ErrBadWindow     = errors.New("lookback and horizon must be positive")
	ErrMissingTarget = errors.New("target column not found")
)

// Prepare converts a frame into supervised sliding-window arrays.
//
// X has shape [N][lookback][len(features)], y has shape [N][horizon],
// N = max(0, rows - lookback - horizon + 1). For sample i, X[i] holds the
// feature columns for rows [i, i+lookback) and y[i] holds the target column
// for rows [i+lookback, i+lookback+horizon). Deterministic; never shuffles.
func Prepare(f *Frame, features []string, target string, lookback, horizon int) ([][][]float64, [][]float64, error) {
	if lookback <= 0 || horizon <= 0 {
		return nil, nil, ErrBadWindow
	}
	if err := f.HasColumns(features); err != nil {
		return nil, nil, fmt.Errorf("prepare dataset: %w", err)
	}
	targetCol, ok := f.Column(target)
	if !ok {
		return nil, nil, ErrMissingTarget
	}

	n := f.Len() - lookback - horizon + 1
	if n <= 0 {
		return nil, nil, nil
	}

	cols := make([][]float64, len(features))
	for j, name := range features {
		cols[j], _ = f.Column(name)
	}

	X := make([][][]float64, n)
	y := make([][]float64, n)
	for i := 0; i < n; i++ {
		window := make([][]float64, lookback)
		for t := 0; t < lookback; t++ {
			row := make([]float64, len(features))
			for j := range features {
				row[j] = cols[j][i+t]
			}
			window[t] = row
		}
		X[i] = window

		targets := make([]float64, horizon)
		copy(targets, targetCol[i+lookback:i+lookback+horizon])
		y[i] = targets
	}

	return X, y, nil
}
