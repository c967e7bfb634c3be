// Package forecast turns a fitted model into dated weekly forecasts with
// clamped prediction intervals.
package forecast

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/anita2210/flu-forecast-hub/arima"
	"github.com/anita2210/flu-forecast-hub/fitter"
	"github.com/anita2210/flu-forecast-hub/ili"
	"github.com/anita2210/flu-forecast-hub/timeseries"
)

const (
	DefaultMaxHorizon = 8
	DefaultConfidence = 0.95
)

// valid range of an ILI percentage
const (
	minILI = 0.0
	maxILI = 100.0
)

// Config configures a Generator.
type Config struct {
	MaxHorizon         int
	Confidence         float64 // in (0, 1)
	StaleAfterVersions uint64
}

// DefaultConfig returns the default generator configuration.
func DefaultConfig() Config {
	return Config{MaxHorizon: DefaultMaxHorizon, Confidence: DefaultConfidence}
}

// Point is one forecast week. Lower <= Point <= Upper, all within [0, 100].
type Point struct {
	Date  time.Time
	Point float64
	Lower float64
	Upper float64
}

// Result is a forecast derived from one fitted model.
type Result struct {
	Region      string
	ModelID     uuid.UUID
	Order       arima.Order
	Version     uint64
	Digest      uint64
	Confidence  float64
	GeneratedAt time.Time
	Points      []Point
}

// Generator produces forecasts and refuses stale models.
type Generator struct {
	cfg      Config
	versions fitter.VersionSource
	now      func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the source of GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a Generator. versions is consulted for staleness; nil
// disables the check.
func NewGenerator(cfg Config, versions fitter.VersionSource, opts ...Option) *Generator {
	if cfg.MaxHorizon <= 0 {
		cfg.MaxHorizon = DefaultMaxHorizon
	}
	if !(cfg.Confidence > 0 && cfg.Confidence < 1) {
		cfg.Confidence = DefaultConfidence
	}
	g := &Generator{cfg: cfg, versions: versions, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the effective configuration.
func (g *Generator) Config() Config { return g.cfg }

// CheckHorizon fails with an invalid_horizon ForecastError outside
// [1, MaxHorizon].
func (g *Generator) CheckHorizon(horizon int) error {
	if horizon < 1 || horizon > g.cfg.MaxHorizon {
		return &ili.ForecastError{Reason: ili.ForecastInvalidHorizon, Horizon: horizon, Max: g.cfg.MaxHorizon}
	}
	return nil
}

// Generate forecasts horizon weeks past the model's last observation.
func (g *Generator) Generate(model *fitter.FittedModel, horizon int) (*Result, error) {
	if err := g.CheckHorizon(horizon); err != nil {
		return nil, err
	}
	if model == nil || model.Params == nil {
		return nil, goerr.New("model has no parameters")
	}
	if g.versions != nil {
		current := g.versions.RegionVersion(model.Region)
		if fitter.IsStale(current, model.Version, g.cfg.StaleAfterVersions) {
			return nil, &ili.ForecastError{
				Reason:         ili.ForecastStaleModel,
				Horizon:        horizon,
				Max:            g.cfg.MaxHorizon,
				ModelVersion:   model.Version,
				CurrentVersion: current,
			}
		}
	}

	point, lower, upper, err := model.Params.PredictWithInterval(horizon, g.cfg.Confidence)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to predict", goerr.V("region", model.Region), goerr.V("order", model.Order.String()))
	}

	res := &Result{
		Region:      model.Region,
		ModelID:     model.ID,
		Order:       model.Order,
		Version:     model.Version,
		Digest:      model.Digest,
		Confidence:  g.cfg.Confidence,
		GeneratedAt: g.now().UTC(),
		Points:      make([]Point, horizon),
	}
	for h := range res.Points {
		if !finite(point[h]) || !finite(lower[h]) || !finite(upper[h]) {
			return nil, goerr.New("predictor returned non-finite value",
				goerr.V("region", model.Region), goerr.V("step", h+1),
				goerr.V("point", point[h]), goerr.V("lower", lower[h]), goerr.V("upper", upper[h]))
		}
		res.Points[h] = Point{
			Date:  timeseries.AddWeeks(model.LastDate, h+1),
			Point: clamp(point[h]),
			Lower: clamp(lower[h]),
			Upper: clamp(upper[h]),
		}
	}
	return res, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp(v float64) float64 {
	return math.Min(math.Max(v, minILI), maxILI)
}
