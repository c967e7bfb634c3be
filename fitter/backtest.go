package fitter

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/anita2210/flu-forecast-hub/arima"
	"github.com/anita2210/flu-forecast-hub/timeseries"
)

// ForecastErrors are accuracy measures over a holdout. MAPE is in percent
// and ignores zero actuals.
type ForecastErrors struct {
	MAE  float64
	RMSE float64
	MAPE float64
}

// Backtest compares the selected model with a naive baseline on the most
// recent weeks, both fitted only on the weeks before them.
type Backtest struct {
	HoldoutWeeks   int
	Order          arima.Order // order selected on the training split
	Model          ForecastErrors
	Baseline       ForecastErrors
	BaselineWindow int
}

// Improvement is the fractional RMSE reduction of the model over the
// baseline; negative when the baseline wins.
func (b *Backtest) Improvement() float64 {
	if b.Baseline.RMSE == 0 {
		return 0
	}
	return 1 - b.Model.RMSE/b.Baseline.RMSE
}

func (f *Fitter) backtest(series *timeseries.Series) *Backtest {
	h := f.cfg.BacktestWeeks
	n := series.Len()
	train := series.Slice(0, n-h)
	actual := series.Values[n-h:]

	model, _, err := f.selectOrder(train)
	if err != nil {
		return nil
	}
	point, _, _, err := model.PredictWithInterval(h, 0.95)
	if err != nil {
		return nil
	}

	baseline, err := NewMovingAverage(train.Values, f.cfg.BaselineWindow)
	if err != nil {
		return nil
	}
	basePoint, _, _, err := baseline.PredictWithInterval(h, 0.95)
	if err != nil {
		return nil
	}

	return &Backtest{
		HoldoutWeeks:   h,
		Order:          model.Order,
		Model:          forecastErrors(actual, point),
		Baseline:       forecastErrors(actual, basePoint),
		BaselineWindow: f.cfg.BaselineWindow,
	}
}

func forecastErrors(actual, predicted []float64) ForecastErrors {
	var sumAbs, sumSq, sumPct float64
	pctN := 0
	for i, a := range actual {
		e := a - clip(predicted[i])
		sumAbs += math.Abs(e)
		sumSq += e * e
		if a != 0 {
			sumPct += math.Abs(e / a)
			pctN++
		}
	}
	n := float64(len(actual))
	fe := ForecastErrors{MAE: sumAbs / n, RMSE: math.Sqrt(sumSq / n)}
	if pctN > 0 {
		fe.MAPE = 100 * sumPct / float64(pctN)
	}
	return fe
}

// clip bounds a forecast to the valid percentage range.
func clip(v float64) float64 {
	return math.Min(math.Max(v, 0), 100)
}

// MovingAverage is a flat forecaster: every future week equals the mean of
// the last Window observations.
type MovingAverage struct {
	Window   int
	Level    float64
	Variance float64 // one-step error variance over the history
}

// NewMovingAverage fits the baseline on values.
func NewMovingAverage(values []float64, window int) (*MovingAverage, error) {
	if window < 1 {
		return nil, errors.New("window must be at least 1")
	}
	if len(values) < window {
		return nil, errors.New("fewer values than the window")
	}

	ma := &MovingAverage{Window: window}
	sum := 0.0
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	ma.Level = sum / float64(window)

	sumSq, count := 0.0, 0
	for t := window; t < len(values); t++ {
		avg := 0.0
		for _, v := range values[t-window : t] {
			avg += v
		}
		e := values[t] - avg/float64(window)
		sumSq += e * e
		count++
	}
	if count > 0 {
		ma.Variance = sumSq / float64(count)
	}
	return ma, nil
}

// PredictWithInterval returns a flat forecast whose interval widens like a
// random walk.
func (ma *MovingAverage) PredictWithInterval(steps int, confidence float64) (point, lower, upper []float64, err error) {
	if steps < 1 {
		return nil, nil, nil, errors.New("steps must be at least 1")
	}
	if confidence <= 0 || confidence >= 1 {
		return nil, nil, nil, errors.New("confidence must be in (0, 1)")
	}

	z := distuv.UnitNormal.Quantile(0.5 + confidence/2)
	point = make([]float64, steps)
	lower = make([]float64, steps)
	upper = make([]float64, steps)
	for h := range point {
		half := z * math.Sqrt(ma.Variance*float64(h+1))
		point[h] = ma.Level
		lower[h] = ma.Level - half
		upper[h] = ma.Level + half
	}
	return point, lower, upper, nil
}
