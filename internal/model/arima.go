package model

import (
	"context"
	"fmt"
	"math"

	"stock-prediction-lab/internal/dataset"
	"stock-prediction-lab/internal/domain"
)

// ARIMA fits an autoregressive integrated moving-average model on the close
// series. Exogenous features are ignored. MA terms are estimated with the
// Hannan-Rissanen two-stage regression: a long autoregression supplies
// residual estimates, then AR and MA coefficients are fit jointly by least
// squares on lagged values and lagged residuals.
type ARIMA struct {
	hyper   domain.Hyperparameters
	feats   domain.FeatureConfig
	p, d, q int

	state *arimaState
}

type arimaState struct {
	Phi       []float64 // AR coefficients, lag 1..p
	Theta     []float64 // MA coefficients, lag 1..q
	Intercept float64
	Sigma2    float64

	// Forecast state captured at the end of the training series.
	DiffTail  []float64 // last p values of the d-differenced series
	ResidTail []float64 // last q model residuals
	LevelTail []float64 // last value of each differencing level 0..d-1
}

// NewARIMA creates an untrained ARIMA variant.
// Hyperparameters: p (5), d (1), q (0), forecast_horizon (5).
func NewARIMA(hp domain.Hyperparameters, fc domain.FeatureConfig) *ARIMA {
	return &ARIMA{
		hyper: hp,
		feats: fc,
		p:     hp.Int("p", 5),
		d:     hp.Int("d", 1),
		q:     hp.Int("q", 0),
	}
}

func (m *ARIMA) Train(_ context.Context, train, validation *dataset.Frame) (Metrics, Importance, error) {
	series, ok := train.Column("close")
	if !ok {
		return nil, nil, fmt.Errorf("train arima: %w", ErrMissingClose)
	}
	series = dropNaN(series)

	// The length check must precede differencing, which consumes d values.
	minLen := m.p + m.q + m.d + 10
	if len(series) < minLen {
		return nil, nil, fmt.Errorf("train arima: %w (have %d, need %d)", ErrInsufficientData, len(series), minLen)
	}
	x, levels := difference(series, m.d)

	state, fitted, firstFit, err := fitARMA(x, m.p, m.q)
	if err != nil {
		return nil, nil, fmt.Errorf("train arima: %w", err)
	}
	state.LevelTail = levels
	m.state = state

	// One-step in-sample error on the differenced series.
	trainMSE := 0.0
	n := 0
	for t := firstFit; t < len(x); t++ {
		d := x[t] - fitted[t-firstFit]
		trainMSE += d * d
		n++
	}
	trainMSE /= float64(n)

	metrics := Metrics{
		"train_mse":  trainMSE,
		"train_rmse": math.Sqrt(trainMSE),
		"aic":        float64(n)*math.Log(state.Sigma2) + 2*float64(m.p+m.q+1),
		"p":          float64(m.p),
		"d":          float64(m.d),
		"q":          float64(m.q),
	}

	if validation != nil {
		if valSeries, ok := validation.Column("close"); ok {
			valSeries = dropNaN(valSeries)
			if len(valSeries) > 0 {
				pred := m.forecast(len(valSeries))
				valMSE := 0.0
				for i, actual := range valSeries {
					d := actual - pred[i]
					valMSE += d * d
				}
				valMSE /= float64(len(valSeries))
				metrics["val_mse"] = valMSE
				metrics["val_rmse"] = math.Sqrt(valMSE)
			}
		}
	}

	// ARIMA has no meaningful notion of per-feature importance: it only
	// consumes lagged values of the target itself.
	return metrics, Importance{}, nil
}

func (m *ARIMA) Predict(_ context.Context, data *dataset.Frame) (*Forecast, error) {
	if m.state == nil {
		return nil, ErrNotTrained
	}
	if data.Len() == 0 {
		return nil, ErrInsufficientData
	}
	horizon := m.hyper.Int("forecast_horizon", 5)
	values := m.forecast(horizon)
	last := data.Dates()[data.Len()-1]
	return &Forecast{
		Dates:  forecastDates(last, horizon),
		Values: values,
	}, nil
}

// forecast iterates the fitted recursion with future shocks set to zero,
// then undoes the differencing.
func (m *ARIMA) forecast(steps int) []float64 {
	st := m.state
	diffed := copyVec(st.DiffTail)
	resid := copyVec(st.ResidTail)

	out := make([]float64, steps)
	for s := 0; s < steps; s++ {
		v := st.Intercept
		for i, phi := range st.Phi {
			v += phi * diffed[len(diffed)-1-i]
		}
		for j, theta := range st.Theta {
			v += theta * resid[len(resid)-1-j]
		}
		out[s] = v
		diffed = append(diffed, v)
		resid = append(resid, 0)
	}

	// Integrate back through each differencing level.
	for level := len(st.LevelTail) - 1; level >= 0; level-- {
		prev := st.LevelTail[level]
		for i := range out {
			out[i] += prev
			prev = out[i]
		}
	}
	return out
}

func (m *ARIMA) Save() (*Artifact, error) {
	if m.state == nil {
		return nil, ErrNotTrained
	}
	payload, err := encodePayload(m.state)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Architecture:    domain.ArchitectureARIMA,
		Hyperparameters: m.hyper,
		FeatureConfig:   m.feats,
		Payload:         payload,
	}, nil
}

func loadARIMA(a *Artifact) (*ARIMA, error) {
	m := NewARIMA(a.Hyperparameters, a.FeatureConfig)
	var st arimaState
	if err := decodePayload(a.Payload, &st); err != nil {
		return nil, err
	}
	m.state = &st
	return m, nil
}

func (m *ARIMA) FeatureImportance() Importance { return Importance{} }

// ErrMissingClose is returned when the input frame lacks a close column.
var ErrMissingClose = fmt.Errorf("missing close column")

// difference applies d rounds of first differencing and records the last
// value of each level so forecasts can be integrated back.
func difference(series []float64, d int) ([]float64, []float64) {
	levels := make([]float64, 0, d)
	x := copyVec(series)
	for k := 0; k < d && len(x) > 0; k++ {
		levels = append(levels, x[len(x)-1])
		next := make([]float64, len(x)-1)
		for i := 1; i < len(x); i++ {
			next[i-1] = x[i] - x[i-1]
		}
		x = next
	}
	return x, levels
}

// fitARMA estimates ARMA(p, q) coefficients on a stationary series. Returns
// the fitted state, the one-step fitted values from index firstFit on, and
// firstFit itself.
func fitARMA(x []float64, p, q int) (*arimaState, []float64, int, error) {
	var resid []float64
	residOffset := 0

	if q > 0 {
		// Stage 1: long AR to estimate innovations.
		m := p + q + 5
		if m > len(x)/2 {
			m = len(x) / 2
		}
		if m < 1 {
			return nil, nil, 0, ErrInsufficientData
		}
		longAR, err := fitAR(x, m)
		if err != nil {
			return nil, nil, 0, err
		}
		resid = make([]float64, len(x)-m)
		for t := m; t < len(x); t++ {
			pred := longAR[0]
			for i := 1; i <= m; i++ {
				pred += longAR[i] * x[t-i]
			}
			resid[t-m] = x[t] - pred
		}
		residOffset = m
	}

	firstFit := p
	if q > 0 && residOffset+q > firstFit {
		firstFit = residOffset + q
	}
	if len(x)-firstFit < p+q+2 {
		return nil, nil, 0, ErrInsufficientData
	}

	// Stage 2: joint regression on lagged values and lagged innovations.
	rows := len(x) - firstFit
	X := make([][]float64, rows)
	y := make([]float64, rows)
	for t := firstFit; t < len(x); t++ {
		row := make([]float64, 1+p+q)
		row[0] = 1
		for i := 1; i <= p; i++ {
			row[i] = x[t-i]
		}
		for j := 1; j <= q; j++ {
			row[p+j] = resid[t-j-residOffset]
		}
		X[t-firstFit] = row
		y[t-firstFit] = x[t]
	}

	beta, err := leastSquares(X, y)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("fit arma coefficients: %w", err)
	}

	st := &arimaState{
		Intercept: beta[0],
		Phi:       beta[1 : 1+p],
		Theta:     beta[1+p:],
	}

	// Model residuals and in-sample fitted values under the final coefficients.
	fitted := make([]float64, rows)
	modelResid := make([]float64, rows)
	sigma2 := 0.0
	for r, row := range X {
		fitted[r] = dot(beta, row)
		modelResid[r] = y[r] - fitted[r]
		sigma2 += modelResid[r] * modelResid[r]
	}
	st.Sigma2 = sigma2 / float64(rows)

	// Forecast tails.
	st.DiffTail = copyVec(x[len(x)-p:])
	if q > 0 {
		st.ResidTail = copyVec(modelResid[len(modelResid)-q:])
	}

	return st, fitted, firstFit, nil
}

// fitAR fits an AR(m) with intercept by least squares.
// Returns [c, a1..am].
func fitAR(x []float64, m int) ([]float64, error) {
	rows := len(x) - m
	if rows < m+2 {
		return nil, ErrInsufficientData
	}
	X := make([][]float64, rows)
	y := make([]float64, rows)
	for t := m; t < len(x); t++ {
		row := make([]float64, m+1)
		row[0] = 1
		for i := 1; i <= m; i++ {
			row[i] = x[t-i]
		}
		X[t-m] = row
		y[t-m] = x[t]
	}
	return leastSquares(X, y)
}

func dropNaN(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
