package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"stock-prediction-lab/internal/dataset"
	"stock-prediction-lab/internal/domain"
)

// TFT is a lightweight temporal fusion network: per-timestep softmax variable
// selection over the input features, a linear embedding, additive temporal
// attention pooling over the lookback window, optional static enrichment, and
// a dense horizon head. The selection weights double as interpretable feature
// importance.
type TFT struct {
	hyper domain.Hyperparameters
	feats domain.FeatureConfig

	state *tftState
}

type tftState struct {
	Features       []string
	StaticFeatures []string
	Lookback       int
	Horizon        int
	Hidden         int

	Wsel [][]float64 // F × F variable-selection scores
	Bsel []float64
	Wemb [][]float64 // H × F input embedding
	Bemb []float64
	Wc   [][]float64 // H × H attention projection
	Bc   []float64
	V    []float64 // H attention vector
	Wst  [][]float64 // H × S static enrichment, nil without static features
	Wy   [][]float64 // horizon × H
	By   []float64

	Scaler       *Scaler
	StaticScaler *Scaler
	Target       *TargetStats
	Importance   map[string]float64
}

// NewTFT creates an untrained network.
// Hyperparameters: lookback_window (60), forecast_horizon (5), hidden_size (64),
// epochs (50), batch_size (32), learning_rate (0.001), seed (42).
func NewTFT(hp domain.Hyperparameters, fc domain.FeatureConfig) *TFT {
	return &TFT{hyper: hp, feats: fc}
}

func (m *TFT) featureNames() []string {
	if len(m.feats.TimeVaryingFeatures) > 0 {
		return m.feats.TimeVaryingFeatures
	}
	return []string{"close"}
}

func (m *TFT) Train(ctx context.Context, train, validation *dataset.Frame) (Metrics, Importance, error) {
	features := m.featureNames()
	lookback := m.hyper.Int("lookback_window", 60)
	horizon := m.hyper.Int("forecast_horizon", 5)
	hidden := m.hyper.Int("hidden_size", 64)
	epochs := m.hyper.Int("epochs", 50)
	batchSize := m.hyper.Int("batch_size", 32)
	lr := m.hyper.Float("learning_rate", 0.001)
	seed := int64(m.hyper.Int("seed", 42))

	X, y, S, err := prepareTFT(train, features, m.feats.StaticFeatures, lookback, horizon)
	if err != nil {
		return nil, nil, fmt.Errorf("train tft: %w", err)
	}
	if len(X) == 0 {
		return nil, nil, fmt.Errorf("train tft: %w", ErrInsufficientData)
	}

	var valX [][][]float64
	var valY, valS [][]float64
	if validation != nil {
		if vx, vy, vs, verr := prepareTFT(validation, features, m.feats.StaticFeatures, lookback, horizon); verr == nil {
			valX, valY, valS = vx, vy, vs
		}
	}

	rng := rand.New(rand.NewSource(seed))
	nf := len(features)
	ns := len(m.feats.StaticFeatures)

	st := &tftState{
		Features:       features,
		StaticFeatures: m.feats.StaticFeatures,
		Lookback:       lookback,
		Horizon:        horizon,
		Hidden:         hidden,
		Wsel:           randMat(rng, nf, nf, 1.0/math.Sqrt(float64(nf))),
		Bsel:           zeros(nf),
		Wemb:           randMat(rng, hidden, nf, 1.0/math.Sqrt(float64(nf))),
		Bemb:           zeros(hidden),
		Wc:             randMat(rng, hidden, hidden, 1.0/math.Sqrt(float64(hidden))),
		Bc:             zeros(hidden),
		V:              randVec(rng, hidden, 1.0/math.Sqrt(float64(hidden))),
		Wy:             randMat(rng, horizon, hidden, 1.0/math.Sqrt(float64(hidden))),
		By:             zeros(horizon),
		Scaler:         fitScaler(X, nf),
		Target:         fitTargetStats(y),
	}
	if ns > 0 {
		st.Wst = randMat(rng, hidden, ns, 1.0/math.Sqrt(float64(ns)))
		st.StaticScaler = fitScaler([][][]float64{S}, ns)
	}
	m.state = st

	Xs := make([][][]float64, len(X))
	ys := make([][]float64, len(y))
	Ss := make([][]float64, len(S))
	for i := range X {
		Xs[i] = st.Scaler.transformWindow(X[i])
		ys[i] = st.Target.transform(y[i])
		if ns > 0 {
			Ss[i] = st.StaticScaler.transformRow(S[i])
		}
	}

	idx := make([]int, len(Xs))
	for i := range idx {
		idx[i] = i
	}

	// Retain the parameter snapshot with the lowest validation loss.
	bestVal := math.Inf(1)
	var best *tftState

	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("train tft: %w", err)
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		for start := 0; start < len(idx); start += batchSize {
			end := start + batchSize
			if end > len(idx) {
				end = len(idx)
			}
			grads := newTFTGrads(st)
			for _, s := range idx[start:end] {
				m.backprop(Xs[s], Ss[s], ys[s], grads)
			}
			applyTFTGrads(st, grads, lr/float64(end-start))
		}

		if len(valX) > 0 {
			valMSE := m.evaluate(valX, valS, valY)
			if valMSE < bestVal {
				bestVal = valMSE
				best = st.snapshot()
			}
		}
	}
	if best != nil {
		m.state = best
		st = best
	}

	trainMSE := m.evaluate(X, S, y)
	metrics := Metrics{
		"train_mse":  trainMSE,
		"train_rmse": math.Sqrt(trainMSE),
		"epochs":     float64(epochs),
	}
	if len(valX) > 0 {
		valMSE := m.evaluate(valX, valS, valY)
		metrics["val_mse"] = valMSE
		metrics["val_rmse"] = math.Sqrt(valMSE)
	}

	impX, impS := Xs, Ss
	if len(valX) > 0 {
		impX = make([][][]float64, len(valX))
		impS = make([][]float64, len(valX))
		for i := range valX {
			impX[i] = st.Scaler.transformWindow(valX[i])
			if ns > 0 {
				impS[i] = st.StaticScaler.transformRow(valS[i])
			}
		}
	}
	st.Importance = m.selectionImportance(impX, impS)

	return metrics, Importance(st.Importance), nil
}

func (m *TFT) Predict(_ context.Context, data *dataset.Frame) (*Forecast, error) {
	st := m.state
	if st == nil {
		return nil, ErrNotTrained
	}
	if data.Len() < st.Lookback {
		return nil, fmt.Errorf("predict tft: %w (have %d rows, need %d)", ErrInsufficientData, data.Len(), st.Lookback)
	}
	cols := make(map[string][]float64, len(st.Features))
	for _, name := range st.Features {
		col, ok := data.Column(name)
		if !ok {
			return nil, fmt.Errorf("predict tft: column %q: %w", name, ErrNoFeatures)
		}
		cols[name] = col
	}
	window := lastWindow(cols, st.Features, data.Len(), st.Lookback)
	if windowHasNaN(window) {
		return nil, fmt.Errorf("predict tft: %w", ErrInsufficientData)
	}

	var static []float64
	if len(st.StaticFeatures) > 0 {
		static = make([]float64, len(st.StaticFeatures))
		for j, name := range st.StaticFeatures {
			col, ok := data.Column(name)
			if !ok {
				return nil, fmt.Errorf("predict tft: static column %q: %w", name, ErrNoFeatures)
			}
			static[j] = col[data.Len()-1]
		}
		static = st.StaticScaler.transformRow(static)
	}

	out, _ := m.forward(st.Scaler.transformWindow(window), static, nil)
	last := data.Dates()[data.Len()-1]
	return &Forecast{
		Dates:  forecastDates(last, st.Horizon),
		Values: st.Target.inverse(out),
	}, nil
}

func (m *TFT) Save() (*Artifact, error) {
	if m.state == nil {
		return nil, ErrNotTrained
	}
	payload, err := encodePayload(m.state)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Architecture:    domain.ArchitectureTFT,
		Hyperparameters: m.hyper,
		FeatureConfig:   m.feats,
		Payload:         payload,
	}, nil
}

func loadTFT(a *Artifact) (*TFT, error) {
	m := NewTFT(a.Hyperparameters, a.FeatureConfig)
	var st tftState
	if err := decodePayload(a.Payload, &st); err != nil {
		return nil, err
	}
	m.state = &st
	return m, nil
}

func (m *TFT) FeatureImportance() Importance {
	if m.state == nil {
		return Importance{}
	}
	return Importance(m.state.Importance)
}

// tftCache records activations of one forward pass for backprop.
type tftCache struct {
	xs     [][]float64 // inputs per t
	alphas [][]float64 // selection weights per t
	ws     [][]float64 // selected inputs per t
	cs     [][]float64 // embeddings per t
	hAttn  [][]float64 // tanh attention projections per t
	beta   []float64   // temporal attention weights
	z      []float64   // pooled context
	e      []float64   // enriched context
	static []float64
}

// forward runs one standardized window (and optional standardized static
// vector) through the network, returning the standardized horizon output and
// the per-timestep selection weights.
func (m *TFT) forward(window [][]float64, static []float64, cache *tftCache) ([]float64, [][]float64) {
	st := m.state
	steps := len(window)
	alphas := make([][]float64, steps)
	cs := make([][]float64, steps)
	hAttn := make([][]float64, steps)
	scores := make([]float64, steps)
	ws := make([][]float64, steps)

	for t, x := range window {
		s := matVec(st.Wsel, x)
		addVec(s, st.Bsel)
		alpha := softmax(s)

		w := make([]float64, len(x))
		for j := range x {
			w[j] = alpha[j] * x[j]
		}
		c := matVec(st.Wemb, w)
		addVec(c, st.Bemb)

		a := matVec(st.Wc, c)
		addVec(a, st.Bc)
		h := make([]float64, len(a))
		for k := range a {
			h[k] = math.Tanh(a[k])
		}
		scores[t] = dot(st.V, h)

		alphas[t], ws[t], cs[t], hAttn[t] = alpha, w, c, h
	}

	beta := softmax(scores)
	z := zeros(st.Hidden)
	for t := range cs {
		axpyVec(z, cs[t], beta[t])
	}

	e := copyVec(z)
	if st.Wst != nil && static != nil {
		addVec(e, matVec(st.Wst, static))
	}

	out := matVec(st.Wy, e)
	addVec(out, st.By)

	if cache != nil {
		cache.xs = window
		cache.alphas, cache.ws, cache.cs, cache.hAttn = alphas, ws, cs, hAttn
		cache.beta, cache.z, cache.e, cache.static = beta, z, e, static
	}
	return out, alphas
}

type tftGrads struct {
	dWsel [][]float64
	dBsel []float64
	dWemb [][]float64
	dBemb []float64
	dWc   [][]float64
	dBc   []float64
	dV    []float64
	dWst  [][]float64
	dWy   [][]float64
	dBy   []float64
}

func newTFTGrads(st *tftState) *tftGrads {
	nf := len(st.Features)
	g := &tftGrads{
		dWsel: zerosMat(nf, nf),
		dBsel: zeros(nf),
		dWemb: zerosMat(st.Hidden, nf),
		dBemb: zeros(st.Hidden),
		dWc:   zerosMat(st.Hidden, st.Hidden),
		dBc:   zeros(st.Hidden),
		dV:    zeros(st.Hidden),
		dWy:   zerosMat(st.Horizon, st.Hidden),
		dBy:   zeros(st.Horizon),
	}
	if st.Wst != nil {
		g.dWst = zerosMat(st.Hidden, len(st.StaticFeatures))
	}
	return g
}

// backprop accumulates gradients for one sample.
func (m *TFT) backprop(window [][]float64, static, target []float64, g *tftGrads) {
	st := m.state
	var cache tftCache
	out, _ := m.forward(window, static, &cache)

	dOut := make([]float64, len(out))
	for k := range out {
		dOut[k] = 2 * (out[k] - target[k]) / float64(len(out))
	}

	addOuter(g.dWy, dOut, cache.e)
	addVec(g.dBy, dOut)
	de := matTVec(st.Wy, dOut)

	if st.Wst != nil && cache.static != nil {
		addOuter(g.dWst, de, cache.static)
	}
	dz := de

	// Through the temporal softmax pooling.
	steps := len(window)
	dBeta := make([]float64, steps)
	for t := 0; t < steps; t++ {
		dBeta[t] = dot(dz, cache.cs[t])
	}
	dScores := softmaxBackward(cache.beta, dBeta)

	for t := 0; t < steps; t++ {
		dc := make([]float64, st.Hidden)
		axpyVec(dc, dz, cache.beta[t])

		// scores[t] = V·tanh(Wc·c + Bc)
		h := cache.hAttn[t]
		axpyVec(g.dV, h, dScores[t])
		da := make([]float64, st.Hidden)
		for k := range da {
			da[k] = dScores[t] * st.V[k] * (1 - h[k]*h[k])
		}
		addOuter(g.dWc, da, cache.cs[t])
		addVec(g.dBc, da)
		addVec(dc, matTVec(st.Wc, da))

		// c = Wemb·w + Bemb
		addOuter(g.dWemb, dc, cache.ws[t])
		addVec(g.dBemb, dc)
		dw := matTVec(st.Wemb, dc)

		// w = alpha ⊙ x, then back through the selection softmax.
		x := cache.xs[t]
		alpha := cache.alphas[t]
		dAlpha := make([]float64, len(x))
		for j := range x {
			dAlpha[j] = dw[j] * x[j]
		}
		ds := softmaxBackward(alpha, dAlpha)
		addOuter(g.dWsel, ds, x)
		addVec(g.dBsel, ds)
	}
}

// softmaxBackward maps a gradient on softmax outputs p to a gradient on the
// pre-softmax scores.
func softmaxBackward(p, dp []float64) []float64 {
	inner := dot(p, dp)
	out := make([]float64, len(p))
	for i := range p {
		out[i] = p[i] * (dp[i] - inner)
	}
	return out
}

const tftClipNorm = 5.0

func applyTFTGrads(st *tftState, g *tftGrads, lr float64) {
	sq := 0.0
	addSq := func(m [][]float64) {
		for _, row := range m {
			sq += dot(row, row)
		}
	}
	addSq(g.dWsel)
	addSq(g.dWemb)
	addSq(g.dWc)
	addSq(g.dWy)
	if g.dWst != nil {
		addSq(g.dWst)
	}
	sq += dot(g.dBsel, g.dBsel) + dot(g.dBemb, g.dBemb) + dot(g.dBc, g.dBc) +
		dot(g.dV, g.dV) + dot(g.dBy, g.dBy)

	scale := 1.0
	if norm := math.Sqrt(sq); norm > tftClipNorm {
		scale = tftClipNorm / norm
	}
	step := -lr * scale

	axpyMat(st.Wsel, g.dWsel, step)
	axpyVec(st.Bsel, g.dBsel, step)
	axpyMat(st.Wemb, g.dWemb, step)
	axpyVec(st.Bemb, g.dBemb, step)
	axpyMat(st.Wc, g.dWc, step)
	axpyVec(st.Bc, g.dBc, step)
	axpyVec(st.V, g.dV, step)
	if st.Wst != nil && g.dWst != nil {
		axpyMat(st.Wst, g.dWst, step)
	}
	axpyMat(st.Wy, g.dWy, step)
	axpyVec(st.By, g.dBy, step)
}

// evaluate computes MSE in original units.
func (m *TFT) evaluate(X [][][]float64, S [][]float64, y [][]float64) float64 {
	st := m.state
	sum := 0.0
	n := 0
	for s := range X {
		var static []float64
		if st.StaticScaler != nil && S[s] != nil {
			static = st.StaticScaler.transformRow(S[s])
		}
		raw, _ := m.forward(st.Scaler.transformWindow(X[s]), static, nil)
		out := st.Target.inverse(raw)
		for k, actual := range y[s] {
			d := actual - out[k]
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// selectionImportance averages the variable-selection weights over samples
// and timesteps. The result sums to 1 by construction.
func (m *TFT) selectionImportance(Xs [][][]float64, Ss [][]float64) map[string]float64 {
	st := m.state
	if len(Xs) > importanceSampleCap {
		Xs = Xs[len(Xs)-importanceSampleCap:]
		Ss = Ss[len(Ss)-importanceSampleCap:]
	}
	acc := zeros(len(st.Features))
	count := 0
	for s := range Xs {
		_, alphas := m.forward(Xs[s], Ss[s], nil)
		for _, alpha := range alphas {
			addVec(acc, alpha)
			count++
		}
	}
	scores := make(map[string]float64, len(st.Features))
	if count == 0 {
		return scores
	}
	for j, name := range st.Features {
		scores[name] = acc[j] / float64(count)
	}
	return scores
}

// prepareTFT windows the frame like dataset.Prepare and additionally captures
// the static feature vector at each window's final row. Samples containing
// NaN are dropped.
func prepareTFT(f *dataset.Frame, features, static []string, lookback, horizon int) ([][][]float64, [][]float64, [][]float64, error) {
	X, y, err := dataset.Prepare(f, features, "close", lookback, horizon)
	if err != nil {
		return nil, nil, nil, err
	}

	S := make([][]float64, len(X))
	if len(static) > 0 {
		cols := make([][]float64, len(static))
		for j, name := range static {
			col, ok := f.Column(name)
			if !ok {
				return nil, nil, nil, fmt.Errorf("static column %q: %w", name, ErrNoFeatures)
			}
			cols[j] = col
		}
		for i := range S {
			row := make([]float64, len(static))
			for j := range static {
				row[j] = cols[j][i+lookback-1]
			}
			S[i] = row
		}
	}

	outX := make([][][]float64, 0, len(X))
	outY := make([][]float64, 0, len(y))
	outS := make([][]float64, 0, len(S))
	for i := range X {
		if windowHasNaN(X[i]) || rowHasNaN(y[i]) || (S[i] != nil && rowHasNaN(S[i])) {
			continue
		}
		outX = append(outX, X[i])
		outY = append(outY, y[i])
		outS = append(outS, S[i])
	}
	return outX, outY, outS, nil
}

func randVec(rng *rand.Rand, n int, scale float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = (rng.Float64()*2 - 1) * scale
	}
	return v
}

// snapshot deep-copies the learnable parameters for best-epoch retention.
func (st *tftState) snapshot() *tftState {
	cp := *st
	cp.Wsel = copyMat(st.Wsel)
	cp.Bsel = copyVec(st.Bsel)
	cp.Wemb = copyMat(st.Wemb)
	cp.Bemb = copyVec(st.Bemb)
	cp.Wc = copyMat(st.Wc)
	cp.Bc = copyVec(st.Bc)
	cp.V = copyVec(st.V)
	if st.Wst != nil {
		cp.Wst = copyMat(st.Wst)
	}
	cp.Wy = copyMat(st.Wy)
	cp.By = copyVec(st.By)
	return &cp
}
