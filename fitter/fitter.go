// Package fitter selects and fits an ARIMA model for a region's series.
//
// The search is an exhaustive scan of a small fixed (p,d,q) grid, scored by
// an information criterion. For a given snapshot and configuration the
// chosen order is always the same: the scan order is fixed, the optimizer
// runs a bounded number of iterations, and ties are broken by model size.
package fitter

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/anita2210/flu-forecast-hub/arima"
	"github.com/anita2210/flu-forecast-hub/ili"
	"github.com/anita2210/flu-forecast-hub/stats"
	"github.com/anita2210/flu-forecast-hub/store"
	"github.com/anita2210/flu-forecast-hub/timeseries"
)

// Criterion names the information criterion minimized by the search.
type Criterion string

const (
	CriterionAIC Criterion = "aic"
	CriterionBIC Criterion = "bic"
)

// ParseCriterion accepts "aic" or "bic" in any case.
func ParseCriterion(s string) (Criterion, error) {
	switch c := Criterion(strings.ToLower(strings.TrimSpace(s))); c {
	case CriterionAIC, CriterionBIC:
		return c, nil
	case "":
		return CriterionAIC, nil
	default:
		return "", fmt.Errorf("unknown criterion %q", s)
	}
}

// DefaultMinObservations is one year of weekly data.
const DefaultMinObservations = 52

// relative tolerance under which two criterion values tie
const tieTolerance = 1e-9

// Config holds configuration for order selection.
type Config struct {
	MaxP            int       // Maximum AR order (default: 2)
	MaxD            int       // Maximum differencing order (default: 1)
	MaxQ            int       // Maximum MA order (default: 2)
	Criterion       Criterion // "aic" or "bic" (default: "aic")
	MinObservations int       // Shortest series accepted (default: 52)
	Lookback        int       // Fit only the latest N points; 0 uses all
	BacktestWeeks   int       // Holdout length for evaluation; 0 disables
	BaselineWindow  int       // Moving-average window of the backtest baseline
}

// DefaultConfig returns the default fitter configuration.
func DefaultConfig() Config {
	return Config{
		MaxP:            2,
		MaxD:            1,
		MaxQ:            2,
		Criterion:       CriterionAIC,
		MinObservations: DefaultMinObservations,
		BacktestWeeks:   12,
		BaselineWindow:  4,
	}
}

// Predictor produces point forecasts with prediction intervals. The fitted
// ARIMA model and the backtest baseline both satisfy it.
type Predictor interface {
	PredictWithInterval(steps int, confidence float64) (point, lower, upper []float64, err error)
}

// CandidateScore records the outcome of one grid candidate.
type CandidateScore struct {
	Order  arima.Order
	AIC    float64
	BIC    float64
	LogLik float64
	Score  float64 // value of the configured criterion
	Reason string  // why the candidate was skipped; empty if scored
}

// Skipped reports whether the candidate took no part in selection.
func (c CandidateScore) Skipped() bool { return c.Reason != "" }

// ResidualStats summarizes the in-sample one-step residuals. Variance is the
// model's degrees-of-freedom adjusted innovation variance.
type ResidualStats struct {
	Mean         float64
	Variance     float64
	StdDev       float64
	MAE          float64
	RMSE         float64
	LjungBoxQ    float64
	LjungBoxP    float64
	LjungBoxLags int // 0 when the test could not run
	DurbinWatson float64
}

// Diagnostics describes the input series.
type Diagnostics struct {
	SuggestedD int  // differences suggested by the stationarity tests
	Stationary bool // KPSS fails to reject level stationarity
	KPSS       *stats.TestResult
	ADF        *stats.TestResult
}

// FittedModel is the selected model for one region and snapshot. Params is
// opaque to everything except the forecast generator.
type FittedModel struct {
	ID           uuid.UUID
	Region       string
	Order        arima.Order
	Version      uint64 // region version of the snapshot
	Digest       uint64
	LastDate     time.Time
	FitTimestamp time.Time
	NObs         int
	AIC          float64
	BIC          float64
	LogLik       float64
	Residuals    ResidualStats
	Diagnostics  Diagnostics
	Candidates   []CandidateScore
	Backtest     *Backtest
	Params       Predictor
}

// Fitter fits models. It holds no mutable state and is safe for concurrent
// use.
type Fitter struct {
	cfg Config
	now func() time.Time
}

// Option configures a Fitter.
type Option func(*Fitter)

// WithClock overrides the source of fit timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Fitter) { f.now = now }
}

// New creates a Fitter. Zero grid bounds and lengths fall back to defaults.
func New(cfg Config, opts ...Option) *Fitter {
	def := DefaultConfig()
	if cfg.MinObservations <= 0 {
		cfg.MinObservations = def.MinObservations
	}
	if cfg.Criterion == "" {
		cfg.Criterion = def.Criterion
	}
	if cfg.BaselineWindow <= 0 {
		cfg.BaselineWindow = def.BaselineWindow
	}
	cfg.MaxP, cfg.MaxD, cfg.MaxQ = max(cfg.MaxP, 0), max(cfg.MaxD, 0), max(cfg.MaxQ, 0)

	f := &Fitter{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Config returns the effective configuration.
func (f *Fitter) Config() Config { return f.cfg }

// Fit selects the best order on the snapshot and returns the fitted model.
// Errors are *ili.FitError.
func (f *Fitter) Fit(snap store.Snapshot) (*FittedModel, error) {
	points := snap.Points
	if f.cfg.Lookback > 0 && len(points) > f.cfg.Lookback {
		points = points[len(points)-f.cfg.Lookback:]
	}
	if len(points) < f.cfg.MinObservations {
		return nil, &ili.FitError{
			Reason: ili.FitInsufficientData,
			Region: snap.Region,
			Have:   len(points),
			Need:   f.cfg.MinObservations,
		}
	}

	series := timeseries.FromPoints(snap.Region, points)
	best, candidates, err := f.selectOrder(series)
	if err != nil {
		return nil, &ili.FitError{Reason: ili.FitDegenerate, Region: snap.Region, Have: series.Len(), Err: err}
	}

	fm := &FittedModel{
		ID:           uuid.New(),
		Region:       snap.Region,
		Order:        best.Order,
		Version:      snap.Version,
		Digest:       snap.Digest,
		LastDate:     series.LastDate(),
		FitTimestamp: f.now().UTC(),
		NObs:         series.Len(),
		AIC:          best.AIC,
		BIC:          best.BIC,
		LogLik:       best.LogLik,
		Residuals:    residualStats(best),
		Diagnostics:  diagnose(series.Values, f.cfg.MaxD),
		Candidates:   candidates,
		Params:       best,
	}

	if f.cfg.BacktestWeeks > 0 && series.Len() >= f.cfg.MinObservations+f.cfg.BacktestWeeks {
		fm.Backtest = f.backtest(series)
	}
	return fm, nil
}

func (f *Fitter) score(m *arima.Model) float64 {
	if f.cfg.Criterion == CriterionBIC {
		return m.BIC
	}
	return m.AIC
}

// selectOrder scans the grid in d, p, q order and keeps the best finite
// score.
func (f *Fitter) selectOrder(series *timeseries.Series) (*arima.Model, []CandidateScore, error) {
	var (
		best       *arima.Model
		bestScore  = math.Inf(1)
		candidates []CandidateScore
	)

	n := series.Len()
	for d := 0; d <= f.cfg.MaxD; d++ {
		for p := 0; p <= f.cfg.MaxP; p++ {
			for q := 0; q <= f.cfg.MaxQ; q++ {
				order := arima.Order{P: p, D: d, Q: q}
				cand := CandidateScore{Order: order}

				if n < order.MinObservations() {
					cand.Reason = "insufficient data"
					candidates = append(candidates, cand)
					continue
				}

				model := arima.New(p, d, q)
				if err := model.Fit(series); err != nil {
					cand.Reason = err.Error()
					candidates = append(candidates, cand)
					continue
				}

				cand.AIC, cand.BIC, cand.LogLik = model.AIC, model.BIC, model.LogLik
				cand.Score = f.score(model)
				if math.IsNaN(cand.Score) || math.IsInf(cand.Score, 0) {
					cand.Reason = "degenerate fit"
					candidates = append(candidates, cand)
					continue
				}
				candidates = append(candidates, cand)

				if best == nil || better(cand.Score, order, bestScore, best.Order) {
					best, bestScore = model, cand.Score
				}
			}
		}
	}

	if best == nil {
		return nil, candidates, errors.New("no candidate produced a finite criterion")
	}
	return best, candidates, nil
}

// better reports whether score/order beats the incumbent. Scores within the
// tie tolerance prefer fewer ARMA terms, then less differencing, then fewer
// AR terms.
func better(score float64, order arima.Order, bestScore float64, bestOrder arima.Order) bool {
	scale := max(1, math.Abs(score), math.Abs(bestScore))
	if math.Abs(score-bestScore) > tieTolerance*scale {
		return score < bestScore
	}
	if a, b := order.P+order.Q, bestOrder.P+bestOrder.Q; a != b {
		return a < b
	}
	if order.D != bestOrder.D {
		return order.D < bestOrder.D
	}
	return order.P < bestOrder.P
}

func residualStats(m *arima.Model) ResidualStats {
	res := m.Residuals()
	if len(res) == 0 {
		return ResidualStats{}
	}

	rs := ResidualStats{
		Mean:     stat.Mean(res, nil),
		Variance: m.Variance,
		StdDev:   math.Sqrt(m.Variance),
	}

	sumAbs, sumSq := 0.0, 0.0
	for _, r := range res {
		sumAbs += math.Abs(r)
		sumSq += r * r
	}
	rs.MAE = sumAbs / float64(len(res))
	rs.RMSE = math.Sqrt(sumSq / float64(len(res)))

	if lb := stats.LjungBox(res, 10, m.Order.P+m.Order.Q); lb != nil {
		rs.LjungBoxQ, rs.LjungBoxP, rs.LjungBoxLags = lb.Statistic, lb.PValue, lb.Lags
	}
	if dw, ok := stats.DurbinWatson(res); ok {
		rs.DurbinWatson = dw
	}
	return rs
}

func diagnose(values []float64, maxD int) Diagnostics {
	d := Diagnostics{
		SuggestedD: stats.NDiffs(values, max(maxD, 1)),
		KPSS:       stats.KPSS(values, 0),
		ADF:        stats.ADF(values, 0),
	}
	if d.KPSS != nil {
		d.Stationary = d.KPSS.IsStationary
	} else if d.ADF != nil {
		d.Stationary = d.ADF.IsStationary
	}
	return d
}
