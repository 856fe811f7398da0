// Package features computes the technical-indicator catalog from OHLCV series.
package features

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"stock-prediction-lab/internal/dataset"
	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/observability"
)

// Feature type names. Keys of the generator catalog.
const (
	TypeSimpleMovingAverage      = "simple_moving_average"
	TypeExponentialMovingAverage = "exponential_moving_average"
	TypeRelativeStrengthIndex    = "relative_strength_index"
	TypeBollingerBands           = "bollinger_bands"
	TypeMACD                     = "macd"
	TypeRateOfChange             = "rate_of_change"
	TypeAverageTrueRange         = "average_true_range"
	TypeStochasticOscillator     = "stochastic_oscillator"
	TypeOnBalanceVolume          = "on_balance_volume"
	TypePriceChannel             = "price_channel"
)

// MaxLookbackDays is the longest indicator window. Price retrieval must extend
// the requested start date by this many days to avoid leading gaps inside the
// requested range.
const MaxLookbackDays = 200

var (
	movingAverageWindows = []int{5, 10, 20, 50, 100, 200}
	rsiWindows           = []int{9, 14, 25}
	rocWindows           = []int{5, 10, 20}
)

type generatorFunc func(f *dataset.Frame) (*dataset.Frame, error)

// Generator computes the full indicator catalog from an ordered price frame.
type Generator struct {
	log      zerolog.Logger
	catalog  map[string]generatorFunc
	ordering []string
}

// NewGenerator creates a Generator.
func NewGenerator(log zerolog.Logger) *Generator {
	g := &Generator{log: log}
	g.catalog = map[string]generatorFunc{
		TypeSimpleMovingAverage:      g.movingAverage,
		TypeExponentialMovingAverage: g.exponentialMovingAverage,
		TypeRelativeStrengthIndex:    g.relativeStrengthIndex,
		TypeBollingerBands:           g.bollingerBands,
		TypeMACD:                     g.macd,
		TypeRateOfChange:             g.rateOfChange,
		TypeAverageTrueRange:         g.averageTrueRange,
		TypeStochasticOscillator:     g.stochasticOscillator,
		TypeOnBalanceVolume:          g.onBalanceVolume,
		TypePriceChannel:             g.priceChannel,
	}
	g.ordering = []string{
		TypeSimpleMovingAverage,
		TypeExponentialMovingAverage,
		TypeRelativeStrengthIndex,
		TypeBollingerBands,
		TypeMACD,
		TypeRateOfChange,
		TypeAverageTrueRange,
		TypeStochasticOscillator,
		TypeOnBalanceVolume,
		TypePriceChannel,
	}
	return g
}

// Generate computes every feature type from the price frame (columns: open,
// high, low, close, volume). A failure in one feature type is isolated and
// logged; the remaining types are still returned.
func (g *Generator) Generate(f *dataset.Frame) map[string]*dataset.Frame {
	out := make(map[string]*dataset.Frame, len(g.catalog))
	for _, name := range g.ordering {
		feature, err := g.catalog[name](f)
		if err != nil {
			g.log.Error().Err(err).Str("feature_type", name).Msg("feature generation failed")
			observability.RecordFeatureError(name)
			continue
		}
		out[name] = feature
	}
	return out
}

// Flatten converts generated feature frames into feature records, excluding
// undefined (NaN) cells.
func Flatten(stockID int64, featureFrames map[string]*dataset.Frame) []*domain.FeatureRecord {
	var records []*domain.FeatureRecord
	for name, frame := range featureFrames {
		before := len(records)
		dates := frame.Dates()
		for _, col := range frame.ColumnNames() {
			values, _ := frame.Column(col)
			for i, v := range values {
				if math.IsNaN(v) {
					continue
				}
				records = append(records, &domain.FeatureRecord{
					StockID:      stockID,
					Timestamp:    dates[i],
					FeatureName:  col,
					FeatureValue: v,
				})
			}
		}
		observability.RecordFeatureComputed(name, len(records)-before)
	}
	return records
}

func (g *Generator) movingAverage(f *dataset.Frame) (*dataset.Frame, error) {
	close, err := column(f, "close")
	if err != nil {
		return nil, err
	}
	out := dataset.New(f.Dates())
	for _, w := range movingAverageWindows {
		if err := out.SetColumn(fmt.Sprintf("ma_%d", w), rollingMean(close, w)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (g *Generator) exponentialMovingAverage(f *dataset.Frame) (*dataset.Frame, error) {
	close, err := column(f, "close")
	if err != nil {
		return nil, err
	}
	out := dataset.New(f.Dates())
	for _, w := range movingAverageWindows {
		if err := out.SetColumn(fmt.Sprintf("ema_%d", w), ewm(close, w)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (g *Generator) relativeStrengthIndex(f *dataset.Frame) (*dataset.Frame, error) {
	close, err := column(f, "close")
	if err != nil {
		return nil, err
	}
	delta := diff(close)

	gains := make([]float64, len(delta))
	losses := make([]float64, len(delta))
	for i, d := range delta {
		if math.IsNaN(d) {
			gains[i] = math.NaN()
			losses[i] = math.NaN()
			continue
		}
		if d > 0 {
			gains[i] = d
		}
		if d < 0 {
			losses[i] = -d
		}
	}

	out := dataset.New(f.Dates())
	for _, w := range rsiWindows {
		avgGain := rollingMean(gains, w)
		avgLoss := rollingMean(losses, w)
		rsi := nanSlice(len(close))
		for i := range rsi {
			switch {
			case math.IsNaN(avgGain[i]) || math.IsNaN(avgLoss[i]):
				// insufficient history
			case avgLoss[i] == 0 && avgGain[i] == 0:
				// flat window, RSI undefined
			case avgLoss[i] == 0:
				rsi[i] = 100
			default:
				rs := avgGain[i] / avgLoss[i]
				rsi[i] = 100 - 100/(1+rs)
			}
		}
		if err := out.SetColumn(fmt.Sprintf("rsi_%d", w), rsi); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (g *Generator) bollingerBands(f *dataset.Frame) (*dataset.Frame, error) {
	close, err := column(f, "close")
	if err != nil {
		return nil, err
	}
	const window = 20
	const numStd = 2.0

	middle := rollingMean(close, window)
	std := rollingStd(close, window)

	upper := nanSlice(len(close))
	lower := nanSlice(len(close))
	width := nanSlice(len(close))
	for i := range close {
		if math.IsNaN(middle[i]) || math.IsNaN(std[i]) {
			continue
		}
		upper[i] = middle[i] + std[i]*numStd
		lower[i] = middle[i] - std[i]*numStd
		width[i] = (upper[i] - lower[i]) / middle[i]
	}

	out := dataset.New(f.Dates())
	out.SetColumn("bb_middle", middle)
	out.SetColumn("bb_upper", upper)
	out.SetColumn("bb_lower", lower)
	out.SetColumn("bb_width", width)
	return out, nil
}

func (g *Generator) macd(f *dataset.Frame) (*dataset.Frame, error) {
	close, err := column(f, "close")
	if err != nil {
		return nil, err
	}
	const fastPeriod, slowPeriod, signalPeriod = 12, 26, 9

	emaFast := ewm(close, fastPeriod)
	emaSlow := ewm(close, slowPeriod)

	line := nanSlice(len(close))
	for i := range close {
		if math.IsNaN(emaFast[i]) || math.IsNaN(emaSlow[i]) {
			continue
		}
		line[i] = emaFast[i] - emaSlow[i]
	}
	signal := ewm(line, signalPeriod)
	histogram := nanSlice(len(close))
	for i := range close {
		if math.IsNaN(line[i]) || math.IsNaN(signal[i]) {
			continue
		}
		histogram[i] = line[i] - signal[i]
	}

	out := dataset.New(f.Dates())
	out.SetColumn("macd_line", line)
	out.SetColumn("macd_signal", signal)
	out.SetColumn("macd_histogram", histogram)
	return out, nil
}

func (g *Generator) rateOfChange(f *dataset.Frame) (*dataset.Frame, error) {
	close, err := column(f, "close")
	if err != nil {
		return nil, err
	}
	out := dataset.New(f.Dates())
	for _, w := range rocWindows {
		shifted := shift(close, w)
		roc := nanSlice(len(close))
		for i := range close {
			if math.IsNaN(shifted[i]) || shifted[i] == 0 {
				continue
			}
			roc[i] = (close[i]/shifted[i] - 1) * 100
		}
		if err := out.SetColumn(fmt.Sprintf("roc_%d", w), roc); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (g *Generator) averageTrueRange(f *dataset.Frame) (*dataset.Frame, error) {
	high, err := column(f, "high")
	if err != nil {
		return nil, err
	}
	low, err := column(f, "low")
	if err != nil {
		return nil, err
	}
	close, err := column(f, "close")
	if err != nil {
		return nil, err
	}
	const window = 14

	prevClose := shift(close, 1)
	trueRange := nanSlice(len(close))
	for i := range close {
		hl := high[i] - low[i]
		if math.IsNaN(prevClose[i]) {
			trueRange[i] = hl
			continue
		}
		hc := math.Abs(high[i] - prevClose[i])
		lc := math.Abs(low[i] - prevClose[i])
		trueRange[i] = math.Max(hl, math.Max(hc, lc))
	}

	out := dataset.New(f.Dates())
	out.SetColumn("atr", rollingMean(trueRange, window))
	return out, nil
}

func (g *Generator) stochasticOscillator(f *dataset.Frame) (*dataset.Frame, error) {
	high, err := column(f, "high")
	if err != nil {
		return nil, err
	}
	low, err := column(f, "low")
	if err != nil {
		return nil, err
	}
	close, err := column(f, "close")
	if err != nil {
		return nil, err
	}
	const kWindow, dWindow = 14, 3

	lowestLow := rollingMin(low, kWindow)
	highestHigh := rollingMax(high, kWindow)

	k := nanSlice(len(close))
	for i := range close {
		if math.IsNaN(lowestLow[i]) || math.IsNaN(highestHigh[i]) {
			continue
		}
		span := highestHigh[i] - lowestLow[i]
		if span == 0 {
			continue
		}
		k[i] = 100 * (close[i] - lowestLow[i]) / span
	}
	d := rollingMean(k, dWindow)

	out := dataset.New(f.Dates())
	out.SetColumn("stoch_k", k)
	out.SetColumn("stoch_d", d)
	return out, nil
}

func (g *Generator) onBalanceVolume(f *dataset.Frame) (*dataset.Frame, error) {
	close, err := column(f, "close")
	if err != nil {
		return nil, err
	}
	volume, err := column(f, "volume")
	if err != nil {
		return nil, err
	}

	delta := diff(close)
	obv := make([]float64, len(close))
	running := 0.0
	for i := range close {
		if !math.IsNaN(delta[i]) {
			switch {
			case delta[i] > 0:
				running += volume[i]
			case delta[i] < 0:
				running -= volume[i]
			}
		}
		obv[i] = running
	}

	out := dataset.New(f.Dates())
	out.SetColumn("obv", obv)
	return out, nil
}

func (g *Generator) priceChannel(f *dataset.Frame) (*dataset.Frame, error) {
	high, err := column(f, "high")
	if err != nil {
		return nil, err
	}
	low, err := column(f, "low")
	if err != nil {
		return nil, err
	}
	const window = 20

	upper := rollingMax(high, window)
	lower := rollingMin(low, window)
	middle := nanSlice(len(high))
	for i := range middle {
		if math.IsNaN(upper[i]) || math.IsNaN(lower[i]) {
			continue
		}
		middle[i] = (upper[i] + lower[i]) / 2
	}

	out := dataset.New(f.Dates())
	out.SetColumn("pc_upper", upper)
	out.SetColumn("pc_middle", middle)
	out.SetColumn("pc_lower", lower)
	return out, nil
}

func column(f *dataset.Frame, name string) ([]float64, error) {
	col, ok := f.Column(name)
	if !ok {
		return nil, fmt.Errorf("price frame missing column %s", name)
	}
	return col, nil
}

// PriceFrame builds the generator input frame from ordered price bars.
func PriceFrame(bars []*domain.PriceBar) *dataset.Frame {
	dates := make([]time.Time, len(bars))
	open := make([]float64, len(bars))
	high := make([]float64, len(bars))
	low := make([]float64, len(bars))
	close := make([]float64, len(bars))
	volume := make([]float64, len(bars))
	adjusted := make([]float64, len(bars))
	for i, b := range bars {
		dates[i] = b.Timestamp
		open[i] = b.Open
		high[i] = b.High
		low[i] = b.Low
		close[i] = b.Close
		volume[i] = b.Volume
		adjusted[i] = b.AdjustedClose
	}
	f := dataset.New(dates)
	f.SetColumn("open", open)
	f.SetColumn("high", high)
	f.SetColumn("low", low)
	f.SetColumn("close", close)
	f.SetColumn("volume", volume)
	f.SetColumn("adjusted_close", adjusted)
	f.SortByDate()
	return f
}
