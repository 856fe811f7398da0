package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"stock-prediction-lab/internal/dataset"
	"stock-prediction-lab/internal/domain"
)

// LSTM is a stacked long short-term memory network trained by truncated BPTT
// over sliding lookback windows. Inputs are standardized per feature, the
// target per series; both transforms travel inside the artifact so loaded
// models reproduce training-time predictions exactly.
type LSTM struct {
	hyper domain.Hyperparameters
	feats domain.FeatureConfig

	state *lstmState
}

type lstmState struct {
	Features []string
	Lookback int
	Horizon  int
	Hidden   int
	Dropout  float64

	Layers []lstmLayer
	Wy     [][]float64 // horizon × hidden
	By     []float64

	Scaler     *Scaler
	Target     *TargetStats
	Importance map[string]float64
}

// lstmLayer holds one layer's gate parameters. W matrices act on the layer
// input, U matrices on the previous hidden state.
type lstmLayer struct {
	Wi, Wf, Wg, Wo [][]float64 // hidden × in
	Ui, Uf, Ug, Uo [][]float64 // hidden × hidden
	Bi, Bf, Bg, Bo []float64
}

// NewLSTM creates an untrained network.
// Hyperparameters: lookback_window (60), forecast_horizon (5), hidden_size (64),
// num_layers (2), dropout (0.2), epochs (50), batch_size (32),
// learning_rate (0.001), seed (42).
func NewLSTM(hp domain.Hyperparameters, fc domain.FeatureConfig) *LSTM {
	return &LSTM{hyper: hp, feats: fc}
}

func (m *LSTM) featureNames() []string {
	if len(m.feats.TimeVaryingFeatures) > 0 {
		return m.feats.TimeVaryingFeatures
	}
	return []string{"close"}
}

func (m *LSTM) Train(ctx context.Context, train, validation *dataset.Frame) (Metrics, Importance, error) {
	features := m.featureNames()
	lookback := m.hyper.Int("lookback_window", 60)
	horizon := m.hyper.Int("forecast_horizon", 5)
	hidden := m.hyper.Int("hidden_size", 64)
	numLayers := m.hyper.Int("num_layers", 2)
	dropout := m.hyper.Float("dropout", 0.2)
	epochs := m.hyper.Int("epochs", 50)
	batchSize := m.hyper.Int("batch_size", 32)
	lr := m.hyper.Float("learning_rate", 0.001)
	seed := int64(m.hyper.Int("seed", 42))

	X, y, err := dataset.Prepare(train, features, "close", lookback, horizon)
	if err != nil {
		return nil, nil, fmt.Errorf("train lstm: %w", err)
	}
	X, y = dropNaNSamples(X, y)
	if len(X) == 0 {
		return nil, nil, fmt.Errorf("train lstm: %w", ErrInsufficientData)
	}

	var valX [][][]float64
	var valY [][]float64
	if validation != nil {
		valX, valY, err = dataset.Prepare(validation, features, "close", lookback, horizon)
		if err == nil {
			valX, valY = dropNaNSamples(valX, valY)
		} else {
			valX, valY = nil, nil
		}
	}

	rng := rand.New(rand.NewSource(seed))

	st := &lstmState{
		Features: features,
		Lookback: lookback,
		Horizon:  horizon,
		Hidden:   hidden,
		Dropout:  dropout,
		Scaler:   fitScaler(X, len(features)),
		Target:   fitTargetStats(y),
	}
	st.Layers = make([]lstmLayer, numLayers)
	for l := range st.Layers {
		in := hidden
		if l == 0 {
			in = len(features)
		}
		st.Layers[l] = newLSTMLayer(rng, in, hidden)
	}
	st.Wy = randMat(rng, horizon, hidden, 1.0/math.Sqrt(float64(hidden)))
	st.By = zeros(horizon)
	m.state = st

	// Pre-standardize once.
	Xs := make([][][]float64, len(X))
	ys := make([][]float64, len(y))
	for i := range X {
		Xs[i] = st.Scaler.transformWindow(X[i])
		ys[i] = st.Target.transform(y[i])
	}

	idx := make([]int, len(Xs))
	for i := range idx {
		idx[i] = i
	}

	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("train lstm: %w", err)
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		for start := 0; start < len(idx); start += batchSize {
			end := start + batchSize
			if end > len(idx) {
				end = len(idx)
			}
			grads := newLSTMGrads(st)
			for _, s := range idx[start:end] {
				m.backprop(Xs[s], ys[s], grads, rng)
			}
			applyLSTMGrads(st, grads, lr/float64(end-start))
		}
	}

	trainMSE := m.evaluate(X, y)
	metrics := Metrics{
		"train_mse":  trainMSE,
		"train_rmse": math.Sqrt(trainMSE),
		"epochs":     float64(epochs),
	}
	if len(valX) > 0 {
		valMSE := m.evaluate(valX, valY)
		metrics["val_mse"] = valMSE
		metrics["val_rmse"] = math.Sqrt(valMSE)
	}

	impX, impY := X, y
	if len(valX) > 0 {
		impX, impY = valX, valY
	}
	st.Importance = m.perturbationImportance(impX, impY)

	return metrics, Importance(st.Importance), nil
}

func (m *LSTM) Predict(_ context.Context, data *dataset.Frame) (*Forecast, error) {
	st := m.state
	if st == nil {
		return nil, ErrNotTrained
	}
	if data.Len() < st.Lookback {
		return nil, fmt.Errorf("predict lstm: %w (have %d rows, need %d)", ErrInsufficientData, data.Len(), st.Lookback)
	}
	cols := make(map[string][]float64, len(st.Features))
	for _, name := range st.Features {
		col, ok := data.Column(name)
		if !ok {
			return nil, fmt.Errorf("predict lstm: column %q: %w", name, ErrNoFeatures)
		}
		cols[name] = col
	}
	window := lastWindow(cols, st.Features, data.Len(), st.Lookback)
	for _, row := range window {
		for _, v := range row {
			if math.IsNaN(v) {
				return nil, fmt.Errorf("predict lstm: %w", ErrInsufficientData)
			}
		}
	}

	out := m.forward(st.Scaler.transformWindow(window), nil, nil)
	last := data.Dates()[data.Len()-1]
	return &Forecast{
		Dates:  forecastDates(last, st.Horizon),
		Values: st.Target.inverse(out),
	}, nil
}

func (m *LSTM) Save() (*Artifact, error) {
	if m.state == nil {
		return nil, ErrNotTrained
	}
	payload, err := encodePayload(m.state)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Architecture:    domain.ArchitectureLSTM,
		Hyperparameters: m.hyper,
		FeatureConfig:   m.feats,
		Payload:         payload,
	}, nil
}

func loadLSTM(a *Artifact) (*LSTM, error) {
	m := NewLSTM(a.Hyperparameters, a.FeatureConfig)
	var st lstmState
	if err := decodePayload(a.Payload, &st); err != nil {
		return nil, err
	}
	m.state = &st
	return m, nil
}

func (m *LSTM) FeatureImportance() Importance {
	if m.state == nil {
		return Importance{}
	}
	return Importance(m.state.Importance)
}

// forward runs the full stack over one standardized window and returns the
// horizon output (still standardized). When caches is non-nil, per-timestep
// activations are recorded for backprop; when rng is non-nil, inverted
// dropout is applied between layers.
func (m *LSTM) forward(window [][]float64, caches []*lstmCache, rng *rand.Rand) []float64 {
	st := m.state
	input := window
	for l := range st.Layers {
		var cache *lstmCache
		if caches != nil {
			caches[l] = newLSTMCache(len(window))
			cache = caches[l]
		}
		output := st.Layers[l].run(input, st.Hidden, cache)
		if rng != nil && l < len(st.Layers)-1 && st.Dropout > 0 {
			mask := dropoutMasks(rng, output, st.Dropout)
			if cache != nil {
				cache.masks = mask
			}
		}
		input = output
	}
	final := input[len(input)-1]
	out := matVec(st.Wy, final)
	addVec(out, st.By)
	return out
}

// run executes one layer over a sequence. Dropout masks recorded in cache are
// applied by the caller; here the raw hidden states are produced.
func (ly *lstmLayer) run(input [][]float64, hidden int, cache *lstmCache) [][]float64 {
	h := zeros(hidden)
	c := zeros(hidden)
	output := make([][]float64, len(input))
	for t, x := range input {
		i := gate(ly.Wi, ly.Ui, ly.Bi, x, h, sigmoid)
		f := gate(ly.Wf, ly.Uf, ly.Bf, x, h, sigmoid)
		g := gate(ly.Wg, ly.Ug, ly.Bg, x, h, math.Tanh)
		o := gate(ly.Wo, ly.Uo, ly.Bo, x, h, sigmoid)

		cNext := make([]float64, hidden)
		tanhC := make([]float64, hidden)
		hNext := make([]float64, hidden)
		for k := 0; k < hidden; k++ {
			cNext[k] = f[k]*c[k] + i[k]*g[k]
			tanhC[k] = math.Tanh(cNext[k])
			hNext[k] = o[k] * tanhC[k]
		}

		if cache != nil {
			cache.xs[t] = x
			cache.is[t], cache.fs[t], cache.gs[t], cache.os[t] = i, f, g, o
			cache.cPrevs[t] = c
			cache.hPrevs[t] = h
			cache.tanhCs[t] = tanhC
		}
		c, h = cNext, hNext
		output[t] = hNext
	}
	return output
}

func gate(W, U [][]float64, b, x, h []float64, act func(float64) float64) []float64 {
	out := matVec(W, x)
	uh := matVec(U, h)
	for k := range out {
		out[k] = act(out[k] + uh[k] + b[k])
	}
	return out
}

type lstmCache struct {
	xs             [][]float64
	is, fs, gs, os [][]float64
	cPrevs, hPrevs [][]float64
	tanhCs         [][]float64
	masks          [][]float64 // inverted-dropout masks on this layer's output
}

func newLSTMCache(steps int) *lstmCache {
	return &lstmCache{
		xs: make([][]float64, steps),
		is: make([][]float64, steps), fs: make([][]float64, steps),
		gs: make([][]float64, steps), os: make([][]float64, steps),
		cPrevs: make([][]float64, steps), hPrevs: make([][]float64, steps),
		tanhCs: make([][]float64, steps),
	}
}

// dropoutMasks scales surviving units by 1/(1-rate) and returns the applied
// masks. Each output row is replaced with a masked copy: the original slices
// alias the recurrence caches and must keep their unmasked values for
// backpropagation.
func dropoutMasks(rng *rand.Rand, output [][]float64, rate float64) [][]float64 {
	keep := 1 - rate
	masks := make([][]float64, len(output))
	for t := range output {
		masks[t] = make([]float64, len(output[t]))
		masked := make([]float64, len(output[t]))
		for k := range output[t] {
			if rng.Float64() < keep {
				masks[t][k] = 1 / keep
				masked[k] = output[t][k] * masks[t][k]
			}
		}
		output[t] = masked
	}
	return masks
}

type lstmGrads struct {
	layers []lstmLayer
	dWy    [][]float64
	dBy    []float64
}

func newLSTMGrads(st *lstmState) *lstmGrads {
	g := &lstmGrads{
		layers: make([]lstmLayer, len(st.Layers)),
		dWy:    zerosMat(st.Horizon, st.Hidden),
		dBy:    zeros(st.Horizon),
	}
	for l, ly := range st.Layers {
		in := len(ly.Wi[0])
		g.layers[l] = zeroLSTMLayer(in, st.Hidden)
	}
	return g
}

// backprop accumulates gradients for one sample into grads.
func (m *LSTM) backprop(window [][]float64, target []float64, grads *lstmGrads, rng *rand.Rand) {
	st := m.state
	caches := make([]*lstmCache, len(st.Layers))
	out := m.forward(window, caches, rng)

	// d(MSE)/d(out), loss averaged over horizon.
	dOut := make([]float64, len(out))
	for k := range out {
		dOut[k] = 2 * (out[k] - target[k]) / float64(len(out))
	}

	final := lastHidden(caches[len(caches)-1], st)
	addOuter(grads.dWy, dOut, final)
	addVec(grads.dBy, dOut)

	// Seed the top layer's output gradient at the final timestep only.
	steps := len(window)
	dhs := zerosMat(steps, st.Hidden)
	dhs[steps-1] = matTVec(st.Wy, dOut)

	for l := len(st.Layers) - 1; l >= 0; l-- {
		cache := caches[l]
		if cache.masks != nil {
			for t := range dhs {
				for k := range dhs[t] {
					dhs[t][k] *= cache.masks[t][k]
				}
			}
		}
		dxs := st.Layers[l].backward(cache, dhs, &grads.layers[l], st.Hidden)
		dhs = dxs
	}
}

// lastHidden recomputes the top layer's final hidden state from its cache.
func lastHidden(cache *lstmCache, st *lstmState) []float64 {
	t := len(cache.xs) - 1
	h := make([]float64, st.Hidden)
	for k := range h {
		h[k] = cache.os[t][k] * cache.tanhCs[t][k]
	}
	if cache.masks != nil {
		for k := range h {
			h[k] *= cache.masks[t][k]
		}
	}
	return h
}

// backward runs BPTT over one layer. dhs carries the gradient on each
// timestep's output; the returned slices carry the gradient on each
// timestep's input, for the layer below.
func (ly *lstmLayer) backward(cache *lstmCache, dhs [][]float64, g *lstmLayer, hidden int) [][]float64 {
	steps := len(cache.xs)
	dxs := make([][]float64, steps)
	dhNext := zeros(hidden)
	dcNext := zeros(hidden)

	for t := steps - 1; t >= 0; t-- {
		i, f, gt, o := cache.is[t], cache.fs[t], cache.gs[t], cache.os[t]
		tanhC := cache.tanhCs[t]
		cPrev, hPrev := cache.cPrevs[t], cache.hPrevs[t]

		dRawI := make([]float64, hidden)
		dRawF := make([]float64, hidden)
		dRawG := make([]float64, hidden)
		dRawO := make([]float64, hidden)
		dc := make([]float64, hidden)
		for k := 0; k < hidden; k++ {
			dh := dhs[t][k] + dhNext[k]
			dc[k] = dcNext[k] + dh*o[k]*(1-tanhC[k]*tanhC[k])
			dRawO[k] = dh * tanhC[k] * o[k] * (1 - o[k])
			dRawI[k] = dc[k] * gt[k] * i[k] * (1 - i[k])
			dRawG[k] = dc[k] * i[k] * (1 - gt[k]*gt[k])
			dRawF[k] = dc[k] * cPrev[k] * f[k] * (1 - f[k])
		}

		x := cache.xs[t]
		addOuter(g.Wi, dRawI, x)
		addOuter(g.Wf, dRawF, x)
		addOuter(g.Wg, dRawG, x)
		addOuter(g.Wo, dRawO, x)
		addOuter(g.Ui, dRawI, hPrev)
		addOuter(g.Uf, dRawF, hPrev)
		addOuter(g.Ug, dRawG, hPrev)
		addOuter(g.Uo, dRawO, hPrev)
		addVec(g.Bi, dRawI)
		addVec(g.Bf, dRawF)
		addVec(g.Bg, dRawG)
		addVec(g.Bo, dRawO)

		dx := matTVec(ly.Wi, dRawI)
		addVec(dx, matTVec(ly.Wf, dRawF))
		addVec(dx, matTVec(ly.Wg, dRawG))
		addVec(dx, matTVec(ly.Wo, dRawO))
		dxs[t] = dx

		dhNext = matTVec(ly.Ui, dRawI)
		addVec(dhNext, matTVec(ly.Uf, dRawF))
		addVec(dhNext, matTVec(ly.Ug, dRawG))
		addVec(dhNext, matTVec(ly.Uo, dRawO))
		for k := 0; k < hidden; k++ {
			dcNext[k] = dc[k] * f[k]
		}
	}
	return dxs
}

const lstmClipNorm = 5.0

func applyLSTMGrads(st *lstmState, g *lstmGrads, lr float64) {
	scale := clipScale(g)
	step := -lr * scale
	for l := range st.Layers {
		p, gl := &st.Layers[l], &g.layers[l]
		axpyMat(p.Wi, gl.Wi, step)
		axpyMat(p.Wf, gl.Wf, step)
		axpyMat(p.Wg, gl.Wg, step)
		axpyMat(p.Wo, gl.Wo, step)
		axpyMat(p.Ui, gl.Ui, step)
		axpyMat(p.Uf, gl.Uf, step)
		axpyMat(p.Ug, gl.Ug, step)
		axpyMat(p.Uo, gl.Uo, step)
		axpyVec(p.Bi, gl.Bi, step)
		axpyVec(p.Bf, gl.Bf, step)
		axpyVec(p.Bg, gl.Bg, step)
		axpyVec(p.Bo, gl.Bo, step)
	}
	axpyMat(st.Wy, g.dWy, step)
	axpyVec(st.By, g.dBy, step)
}

// clipScale returns the factor that bounds the global gradient norm.
func clipScale(g *lstmGrads) float64 {
	sq := 0.0
	add := func(m [][]float64) {
		for _, row := range m {
			for _, v := range row {
				sq += v * v
			}
		}
	}
	for _, gl := range g.layers {
		add(gl.Wi)
		add(gl.Wf)
		add(gl.Wg)
		add(gl.Wo)
		add(gl.Ui)
		add(gl.Uf)
		add(gl.Ug)
		add(gl.Uo)
		sq += dot(gl.Bi, gl.Bi) + dot(gl.Bf, gl.Bf) + dot(gl.Bg, gl.Bg) + dot(gl.Bo, gl.Bo)
	}
	add(g.dWy)
	sq += dot(g.dBy, g.dBy)

	norm := math.Sqrt(sq)
	if norm <= lstmClipNorm {
		return 1
	}
	return lstmClipNorm / norm
}

// evaluate computes MSE in original units over samples.
func (m *LSTM) evaluate(X [][][]float64, y [][]float64) float64 {
	st := m.state
	sum := 0.0
	n := 0
	for s := range X {
		out := st.Target.inverse(m.forward(st.Scaler.transformWindow(X[s]), nil, nil))
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

const importanceSampleCap = 100

// perturbationImportance measures, per feature, the loss increase when that
// feature is neutralized to its training mean across all timesteps. Negative
// deltas clamp to zero; scores normalize to sum 1.
func (m *LSTM) perturbationImportance(X [][][]float64, y [][]float64) map[string]float64 {
	st := m.state
	if len(X) > importanceSampleCap {
		X = X[len(X)-importanceSampleCap:]
		y = y[len(y)-importanceSampleCap:]
	}
	base := m.evaluate(X, y)

	scores := make(map[string]float64, len(st.Features))
	total := 0.0
	for j, name := range st.Features {
		perturbed := make([][][]float64, len(X))
		for s := range X {
			window := copyMat(X[s])
			for t := range window {
				window[t][j] = st.Scaler.Mean[j]
			}
			perturbed[s] = window
		}
		delta := m.evaluate(perturbed, y) - base
		if delta < 0 {
			delta = 0
		}
		scores[name] = delta
		total += delta
	}
	if total > 0 {
		for name := range scores {
			scores[name] /= total
		}
	}
	return scores
}

func newLSTMLayer(rng *rand.Rand, in, hidden int) lstmLayer {
	scale := 1.0 / math.Sqrt(float64(in+hidden))
	ly := lstmLayer{
		Wi: randMat(rng, hidden, in, scale), Wf: randMat(rng, hidden, in, scale),
		Wg: randMat(rng, hidden, in, scale), Wo: randMat(rng, hidden, in, scale),
		Ui: randMat(rng, hidden, hidden, scale), Uf: randMat(rng, hidden, hidden, scale),
		Ug: randMat(rng, hidden, hidden, scale), Uo: randMat(rng, hidden, hidden, scale),
		Bi: zeros(hidden), Bf: zeros(hidden), Bg: zeros(hidden), Bo: zeros(hidden),
	}
	// Forget-gate bias starts open so early training retains long memory.
	for k := range ly.Bf {
		ly.Bf[k] = 1
	}
	return ly
}

func zeroLSTMLayer(in, hidden int) lstmLayer {
	return lstmLayer{
		Wi: zerosMat(hidden, in), Wf: zerosMat(hidden, in),
		Wg: zerosMat(hidden, in), Wo: zerosMat(hidden, in),
		Ui: zerosMat(hidden, hidden), Uf: zerosMat(hidden, hidden),
		Ug: zerosMat(hidden, hidden), Uo: zerosMat(hidden, hidden),
		Bi: zeros(hidden), Bf: zeros(hidden), Bg: zeros(hidden), Bo: zeros(hidden),
	}
}

// dropNaNSamples removes windows or targets containing NaN.
func dropNaNSamples(X [][][]float64, y [][]float64) ([][][]float64, [][]float64) {
	outX := X[:0]
	outY := y[:0]
	for s := range X {
		if windowHasNaN(X[s]) || rowHasNaN(y[s]) {
			continue
		}
		outX = append(outX, X[s])
		outY = append(outY, y[s])
	}
	return outX, outY
}

func windowHasNaN(window [][]float64) bool {
	for _, row := range window {
		if rowHasNaN(row) {
			return true
		}
	}
	return false
}

func rowHasNaN(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
