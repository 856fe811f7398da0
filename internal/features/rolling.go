package features

import "math"

// Rolling window primitives over NaN-aware float64 series. A window that has
// insufficient history or contains a NaN yields NaN, so leading rows stay
// undefined instead of being coerced to zero.

func rollingMean(x []float64, window int) []float64 {
	return rollingApply(x, window, func(w []float64) float64 {
		sum := 0.0
		for _, v := range w {
			sum += v
		}
		return sum / float64(len(w))
	})
}

func rollingStd(x []float64, window int) []float64 {
	return rollingApply(x, window, func(w []float64) float64 {
		mean := 0.0
		for _, v := range w {
			mean += v
		}
		mean /= float64(len(w))
		sumSq := 0.0
		for _, v := range w {
			d := v - mean
			sumSq += d * d
		}
		// Sample stddev, n-1 denominator.
		return math.Sqrt(sumSq / float64(len(w)-1))
	})
}

func rollingMin(x []float64, window int) []float64 {
	return rollingApply(x, window, func(w []float64) float64 {
		min := w[0]
		for _, v := range w[1:] {
			if v < min {
				min = v
			}
		}
		return min
	})
}

func rollingMax(x []float64, window int) []float64 {
	return rollingApply(x, window, func(w []float64) float64 {
		max := w[0]
		for _, v := range w[1:] {
			if v > max {
				max = v
			}
		}
		return max
	})
}

func rollingApply(x []float64, window int, fn func([]float64) float64) []float64 {
	out := nanSlice(len(x))
	if window <= 0 || window > len(x) {
		return out
	}
outer:
	for i := window - 1; i < len(x); i++ {
		w := x[i-window+1 : i+1]
		for _, v := range w {
			if math.IsNaN(v) {
				continue outer
			}
		}
		out[i] = fn(w)
	}
	return out
}

// ewm computes an exponentially weighted mean with alpha = 2/(span+1),
// seeded from the first value (pandas adjust=false semantics).
func ewm(x []float64, span int) []float64 {
	out := nanSlice(len(x))
	if len(x) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	prev := math.NaN()
	for i, v := range x {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(prev) {
			prev = v
		} else {
			prev = alpha*v + (1-alpha)*prev
		}
		out[i] = prev
	}
	return out
}

// diff returns x[i] - x[i-1], NaN for the first row.
func diff(x []float64) []float64 {
	out := nanSlice(len(x))
	for i := 1; i < len(x); i++ {
		out[i] = x[i] - x[i-1]
	}
	return out
}

// shift returns x delayed by n rows, NaN for the leading rows.
func shift(x []float64, n int) []float64 {
	out := nanSlice(len(x))
	for i := n; i < len(x); i++ {
		out[i] = x[i-n]
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
