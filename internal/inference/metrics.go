package inference

import (
	"context"
	"math"
	"sort"
	"time"

	"stock-prediction-lab/internal/domain"
)

// tradingDaysPerYear annualizes the Sharpe ratio.
const tradingDaysPerYear = 252

// ModelAccuracy holds one model's error metrics against realized prices.
type ModelAccuracy struct {
	ModelID int64
	Samples int

	MAE  float64
	RMSE float64
	// MAPE excludes target dates whose actual close is zero.
	MAPE float64
	// DirectionalAccuracy is the share of day-over-day moves whose sign the
	// model got right. The first aligned date has no previous move and is
	// excluded.
	DirectionalAccuracy float64
	// SharpeRatio annualizes the mean/stddev of a long/flat/short
	// sign-following strategy's daily returns, zero when the stddev is zero.
	SharpeRatio float64
}

// Comparison ranks several models on the same stock and evaluation window.
type Comparison struct {
	StockID int64
	Start   time.Time
	End     time.Time

	// Models holds per-model accuracy, best RMSE first. Models with no
	// aligned samples are omitted.
	Models []*ModelAccuracy
}

// Best returns the top-ranked model's accuracy, nil when no model produced
// aligned predictions.
func (c *Comparison) Best() *ModelAccuracy {
	if len(c.Models) == 0 {
		return nil
	}
	return c.Models[0]
}

// Compare evaluates each model's stored predictions against realized closes
// for a stock over [start, end]. Each model is scored only on the target
// dates it actually predicted, so models with disjoint coverage are compared
// on their own samples.
func (s *Service) Compare(ctx context.Context, modelIDs []int64, stockID int64, start, end time.Time) (*Comparison, error) {
	priceFrame, err := s.market.PriceFrame(ctx, stockID, start, end)
	if err != nil {
		return nil, err
	}
	closes, _ := priceFrame.Column("close")
	actualByDate := make(map[int64]float64, priceFrame.Len())
	for i, d := range priceFrame.Dates() {
		actualByDate[dateKey(d)] = closes[i]
	}

	cmp := &Comparison{StockID: stockID, Start: start, End: end}
	for _, modelID := range modelIDs {
		preds, err := s.predictions.GetRange(ctx, modelID, stockID, start, end)
		if err != nil {
			return nil, err
		}
		acc := scoreModel(modelID, preds, actualByDate)
		if acc == nil {
			s.log.Warn().Int64("model_id", modelID).Int64("stock_id", stockID).Msg("no aligned predictions to score")
			continue
		}
		cmp.Models = append(cmp.Models, acc)
	}

	sort.Slice(cmp.Models, func(i, j int) bool {
		return cmp.Models[i].RMSE < cmp.Models[j].RMSE
	})
	return cmp, nil
}

// scoreModel aligns predictions with actuals by target date and computes the
// error metrics. Returns nil when nothing aligns.
func scoreModel(modelID int64, preds []*domain.StockPrediction, actualByDate map[int64]float64) *ModelAccuracy {
	type pair struct {
		date      int64
		predicted float64
		actual    float64
	}
	var pairs []pair
	for _, p := range preds {
		actual, ok := actualByDate[dateKey(p.TargetTimestamp)]
		if !ok {
			continue
		}
		pairs = append(pairs, pair{dateKey(p.TargetTimestamp), p.PredictedValue, actual})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].date < pairs[j].date })

	acc := &ModelAccuracy{ModelID: modelID, Samples: len(pairs)}

	var absSum, sqSum, mapeSum float64
	mapeCount := 0
	for _, pr := range pairs {
		diff := pr.actual - pr.predicted
		absSum += math.Abs(diff)
		sqSum += diff * diff
		if pr.actual != 0 {
			mapeSum += math.Abs(diff / pr.actual)
			mapeCount++
		}
	}
	n := float64(len(pairs))
	acc.MAE = absSum / n
	acc.RMSE = math.Sqrt(sqSum / n)
	if mapeCount > 0 {
		acc.MAPE = mapeSum / float64(mapeCount) * 100
	}

	// Day-over-day move comparison and a sign-following strategy return.
	var hits, moves int
	var returns []float64
	for i := 1; i < len(pairs); i++ {
		predMove := pairs[i].predicted - pairs[i-1].predicted
		actualMove := pairs[i].actual - pairs[i-1].actual
		if sign(predMove) == sign(actualMove) {
			hits++
		}
		moves++
		if pairs[i-1].actual != 0 {
			ret := actualMove / pairs[i-1].actual
			switch {
			case predMove == 0:
				// No predicted move means no position.
				ret = 0
			case predMove < 0:
				ret = -ret
			}
			returns = append(returns, ret)
		}
	}
	if moves > 0 {
		acc.DirectionalAccuracy = float64(hits) / float64(moves)
	}
	acc.SharpeRatio = sharpe(returns)

	return acc
}

// sharpe annualizes mean/stddev of daily returns, zero for a zero stddev.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// dateKey truncates a timestamp to its UTC calendar day.
func dateKey(t time.Time) int64 {
	y, m, d := t.UTC().Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}
