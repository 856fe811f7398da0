package model

import (
	"errors"
	"math"
	"math/rand"
)

// Dense float64 kernels shared by the neural variants and the ARIMA solver.

func zeros(n int) []float64 { return make([]float64, n) }

func zerosMat(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

// randMat draws uniform values in [-scale, scale).
func randMat(rng *rand.Rand, rows, cols int, scale float64) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = (rng.Float64()*2 - 1) * scale
		}
	}
	return m
}

func copyVec(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	return out
}

func copyMat(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = copyVec(m[i])
	}
	return out
}

// matVec computes m·x, m is rows×cols, x has cols elements.
func matVec(m [][]float64, x []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		s := 0.0
		for j, v := range row {
			s += v * x[j]
		}
		out[i] = s
	}
	return out
}

// matTVec computes mᵀ·x, m is rows×cols, x has rows elements.
func matTVec(m [][]float64, x []float64) []float64 {
	if len(m) == 0 {
		return nil
	}
	out := make([]float64, len(m[0]))
	for i, row := range m {
		for j, v := range row {
			out[j] += v * x[i]
		}
	}
	return out
}

// addOuter accumulates dst += a·bᵀ.
func addOuter(dst [][]float64, a, b []float64) {
	for i, ai := range a {
		row := dst[i]
		for j, bj := range b {
			row[j] += ai * bj
		}
	}
}

func addVec(dst, src []float64) {
	for i, v := range src {
		dst[i] += v
	}
}

// axpyMat applies dst += a·src element-wise.
func axpyMat(dst, src [][]float64, a float64) {
	for i := range dst {
		for j := range dst[i] {
			dst[i][j] += a * src[i][j]
		}
	}
}

func axpyVec(dst, src []float64, a float64) {
	for i := range dst {
		dst[i] += a * src[i]
	}
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i, v := range a {
		s += v * b[i]
	}
	return s
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func softmax(x []float64) []float64 {
	max := math.Inf(-1)
	for _, v := range x {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(x))
	sum := 0.0
	for i, v := range x {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

var errSingular = errors.New("singular linear system")

// solveLinear solves A·x = b in place via Gaussian elimination with partial
// pivoting. A must be square.
func solveLinear(A [][]float64, b []float64) ([]float64, error) {
	n := len(A)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(A[r][col]) > math.Abs(A[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(A[pivot][col]) < 1e-12 {
			return nil, errSingular
		}
		A[col], A[pivot] = A[pivot], A[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			factor := A[r][col] / A[col][col]
			if factor == 0 {
				continue
			}
			for c := col; c < n; c++ {
				A[r][c] -= factor * A[col][c]
			}
			b[r] -= factor * b[col]
		}
	}

	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		s := b[r]
		for c := r + 1; c < n; c++ {
			s -= A[r][c] * x[c]
		}
		x[r] = s / A[r][r]
	}
	return x, nil
}

// leastSquares solves min ||X*b - y||^2 via the normal equations. A
// rank-deficient design (collinear columns) makes XᵀX singular; those systems
// are re-solved with a small ridge penalty scaled to the diagonal.
func leastSquares(X [][]float64, y []float64) ([]float64, error) {
	if len(X) == 0 {
		return nil, ErrInsufficientData
	}
	k := len(X[0])
	XtX := zerosMat(k, k)
	Xty := zeros(k)
	for r, row := range X {
		for i := 0; i < k; i++ {
			Xty[i] += row[i] * y[r]
			for j := i; j < k; j++ {
				XtX[i][j] += row[i] * row[j]
			}
		}
	}
	for i := 0; i < k; i++ {
		for j := 0; j < i; j++ {
			XtX[i][j] = XtX[j][i]
		}
	}

	// solveLinear eliminates in place, so each attempt gets its own copy.
	beta, err := solveLinear(copyMat(XtX), copyVec(Xty))
	if !errors.Is(err, errSingular) {
		return beta, err
	}

	ridge := 0.0
	for i := 0; i < k; i++ {
		ridge += XtX[i][i]
	}
	ridge = ridge / float64(k) * 1e-6
	if ridge <= 0 {
		ridge = 1e-8
	}
	for i := 0; i < k; i++ {
		XtX[i][i] += ridge
	}
	return solveLinear(XtX, Xty)
}

// Scaler standardizes feature vectors column-wise. Gob-encoded inside
// artifacts so a loaded model reproduces the exact training-time transform.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// fitScaler computes per-column mean and stddev over windowed samples.
func fitScaler(X [][][]float64, dims int) *Scaler {
	s := &Scaler{Mean: zeros(dims), Std: zeros(dims)}
	count := 0
	for _, window := range X {
		for _, row := range window {
			for j, v := range row {
				s.Mean[j] += v
			}
			count++
		}
	}
	if count == 0 {
		for j := range s.Std {
			s.Std[j] = 1
		}
		return s
	}
	for j := range s.Mean {
		s.Mean[j] /= float64(count)
	}
	for _, window := range X {
		for _, row := range window {
			for j, v := range row {
				d := v - s.Mean[j]
				s.Std[j] += d * d
			}
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / float64(count))
		if s.Std[j] < 1e-9 {
			s.Std[j] = 1
		}
	}
	return s
}

func (s *Scaler) transformRow(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

func (s *Scaler) transformWindow(window [][]float64) [][]float64 {
	out := make([][]float64, len(window))
	for t, row := range window {
		out[t] = s.transformRow(row)
	}
	return out
}

// TargetStats standardizes the scalar target series.
type TargetStats struct {
	Mean float64
	Std  float64
}

func fitTargetStats(y [][]float64) *TargetStats {
	ts := &TargetStats{}
	count := 0
	for _, row := range y {
		for _, v := range row {
			ts.Mean += v
			count++
		}
	}
	if count == 0 {
		ts.Std = 1
		return ts
	}
	ts.Mean /= float64(count)
	for _, row := range y {
		for _, v := range row {
			d := v - ts.Mean
			ts.Std += d * d
		}
	}
	ts.Std = math.Sqrt(ts.Std / float64(count))
	if ts.Std < 1e-9 {
		ts.Std = 1
	}
	return ts
}

func (ts *TargetStats) transform(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = (v - ts.Mean) / ts.Std
	}
	return out
}

func (ts *TargetStats) inverse(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = v*ts.Std + ts.Mean
	}
	return out
}

// lastWindow extracts the trailing lookback rows of the named columns.
func lastWindow(colsByName map[string][]float64, names []string, rows, lookback int) [][]float64 {
	window := make([][]float64, lookback)
	for t := 0; t < lookback; t++ {
		row := make([]float64, len(names))
		for j, name := range names {
			row[j] = colsByName[name][rows-lookback+t]
		}
		window[t] = row
	}
	return window
}
