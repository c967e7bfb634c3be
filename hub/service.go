// Package hub is the query boundary of the forecasting core. It wires the
// normalizer, store, model cache, forecast generator and summarizer together
// and returns plain DTOs; no core type crosses it.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"

	"github.com/anita2210/flu-forecast-hub/fitter"
	"github.com/anita2210/flu-forecast-hub/forecast"
	"github.com/anita2210/flu-forecast-hub/ili"
	"github.com/anita2210/flu-forecast-hub/normalize"
	"github.com/anita2210/flu-forecast-hub/store"
	"github.com/anita2210/flu-forecast-hub/summary"
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 520 // ten years of weeks
)

// Config holds query defaults.
type Config struct {
	DefaultRegion  string
	DefaultLimit   int
	MaxLimit       int
	DefaultHorizon int
}

// Deps are the components a Service orchestrates. Forecasts may be nil.
type Deps struct {
	Store      *store.Store
	Normalizer *normalize.Normalizer
	Models     *fitter.Cache
	Generator  *forecast.Generator
	Forecasts  forecast.Cache
	Bands      summary.Bands
}

// Service answers queries against the current store state.
type Service struct {
	cfg  Config
	deps Deps
}

// New creates a Service.
func New(deps Deps, cfg Config) *Service {
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "NATIONAL"
	}
	cfg.DefaultRegion = normalize.CanonicalRegion(cfg.DefaultRegion)
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultRecentLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = MaxRecentLimit
	}
	if cfg.DefaultHorizon <= 0 {
		cfg.DefaultHorizon = forecast.DefaultMaxHorizon
	}
	if deps.Forecasts == nil {
		deps.Forecasts = forecast.NopCache{}
	}
	if deps.Bands.Thresholds == nil {
		deps.Bands = summary.DefaultBands()
	}
	return &Service{cfg: cfg, deps: deps}
}

// ResolveRegion returns the canonical form of r, or the default region when
// r is blank.
func (s *Service) ResolveRegion(r string) string {
	return s.region(r)
}

func (s *Service) region(r string) string {
	if c := normalize.CanonicalRegion(r); c != "" {
		return c
	}
	return s.cfg.DefaultRegion
}

// Regions lists the regions with stored data.
func (s *Service) Regions(context.Context) []string {
	return s.deps.Store.Regions()
}

// Status reports the global data version and the stored regions.
func (s *Service) Status(ctx context.Context) StatusDTO {
	return StatusDTO{DataVersion: s.deps.Store.Version(), Regions: s.Regions(ctx)}
}

// Recent returns the latest limit weeks of region. A zero limit uses the
// default; limits above the maximum are capped.
func (s *Service) Recent(_ context.Context, region string, limit int) (*RecentDTO, error) {
	region = s.region(region)
	if limit == 0 {
		limit = s.cfg.DefaultLimit
	}
	limit = min(limit, s.cfg.MaxLimit)

	points, err := s.deps.Store.LatestN(region, limit)
	if err != nil {
		return nil, err
	}
	records, err := s.deps.Store.Records(region)
	if err != nil {
		return nil, err
	}

	dto := &RecentDTO{Region: region, Total: len(records), Records: make([]RecordDTO, len(points))}
	for i, p := range points {
		dto.Records[i] = recordDTO(region, p, s.deps.Bands)
	}
	return dto, nil
}

// History returns every week of region, gaps filled.
func (s *Service) History(_ context.Context, region string) ([]RecordDTO, error) {
	region = s.region(region)
	snap, err := s.deps.Store.Snapshot(region)
	if err != nil {
		return nil, err
	}
	out := make([]RecordDTO, len(snap.Points))
	for i, p := range snap.Points {
		out[i] = recordDTO(region, p, s.deps.Bands)
	}
	return out, nil
}

// Forecast returns horizon weeks of forecast for region. A zero horizon
// uses the default. Stale models are refitted, never served.
func (s *Service) Forecast(ctx context.Context, region string, horizon int) (*ForecastDTO, error) {
	logger := ctxlog.From(ctx)
	region = s.region(region)
	if horizon == 0 {
		horizon = s.cfg.DefaultHorizon
	}
	if err := s.deps.Generator.CheckHorizon(horizon); err != nil {
		return nil, err
	}

	digest, err := s.deps.Store.Digest(region)
	if err != nil {
		return nil, err
	}
	key := forecast.Key{Region: region, Version: s.deps.Store.RegionVersion(region), Digest: digest, Horizon: horizon}

	if res, ok, err := s.deps.Forecasts.Get(ctx, key); err != nil {
		logger.Warn("forecast cache read failed", slog.String("key", key.String()), slog.Any("error", err))
	} else if ok {
		var metrics *MetricsDTO
		if m, ok := s.deps.Models.Peek(region); ok && m.ID == res.ModelID {
			metrics = metricsDTO(m.Backtest)
		}
		return forecastDTO(res, metrics, true), nil
	}

	model, err := s.deps.Models.Get(ctx, region)
	if err != nil {
		return nil, err
	}
	res, err := s.deps.Generator.Generate(model, horizon)
	if ili.IsForecast(err, ili.ForecastStaleModel) {
		// a write landed between the freshness check and generation
		if model, err = s.deps.Models.Refit(ctx, region); err != nil {
			return nil, err
		}
		res, err = s.deps.Generator.Generate(model, horizon)
	}
	if err != nil {
		return nil, err
	}

	key.Version, key.Digest = res.Version, res.Digest
	if err := s.deps.Forecasts.Set(ctx, key, res); err != nil {
		logger.Warn("forecast cache write failed", slog.String("key", key.String()), slog.Any("error", err))
	}
	return forecastDTO(res, metricsDTO(model.Backtest), false), nil
}

func metricsDTO(bt *fitter.Backtest) *MetricsDTO {
	if bt == nil {
		return nil
	}
	m := &MetricsDTO{
		HoldoutWeeks: bt.HoldoutWeeks,
		MAE:          round2(bt.Model.MAE),
		RMSE:         round2(bt.Model.RMSE),
		BaselineMAE:  round2(bt.Baseline.MAE),
		BaselineRMSE: round2(bt.Baseline.RMSE),
	}
	if bt.Model.MAPE > 0 {
		mape := round2(bt.Model.MAPE)
		m.MAPE = &mape
	}
	return m
}

// Summary describes region over [start, end]; zero bounds are open.
func (s *Service) Summary(_ context.Context, region string, start, end time.Time) (*SummaryDTO, error) {
	region = s.region(region)

	var points []ili.SeriesPoint
	if start.IsZero() && end.IsZero() {
		snap, err := s.deps.Store.Snapshot(region)
		if err != nil {
			return nil, err
		}
		points = snap.Points
	} else {
		if end.IsZero() {
			end = time.Unix(math.MaxInt32, 0).UTC()
		}
		var err error
		if points, err = s.deps.Store.Window(region, start, end); err != nil {
			return nil, err
		}
	}

	stats, err := summary.Summarize(points, s.deps.Bands)
	if err != nil {
		return nil, err
	}
	return summaryDTO(region, stats), nil
}

// Seasonal aggregates region by year and flu season.
func (s *Service) Seasonal(_ context.Context, region string) ([]SeasonalDTO, error) {
	region = s.region(region)
	snap, err := s.deps.Store.Snapshot(region)
	if err != nil {
		return nil, err
	}
	groups := summary.BySeason(snap.Points)
	out := make([]SeasonalDTO, len(groups))
	for i, g := range groups {
		out[i] = SeasonalDTO{Year: g.Year, Season: string(g.Season), AggregateDTO: aggregateDTO(g.Aggregate)}
	}
	return out, nil
}

// WeeklyAverages aggregates region by week of the year.
func (s *Service) WeeklyAverages(_ context.Context, region string) ([]WeeklyDTO, error) {
	region = s.region(region)
	snap, err := s.deps.Store.Snapshot(region)
	if err != nil {
		return nil, err
	}
	groups := summary.ByWeekOfYear(snap.Points)
	out := make([]WeeklyDTO, len(groups))
	for i, g := range groups {
		out[i] = WeeklyDTO{Week: g.Week, Label: fmt.Sprintf("Week %d", g.Week), AggregateDTO: aggregateDTO(g.Aggregate)}
	}
	return out, nil
}

// Ingest normalizes rows and stores the accepted ones. Rejected rows are
// reported, not fatal; a store failure fails the whole call.
func (s *Service) Ingest(ctx context.Context, rows []ili.RawRow) (*IngestReport, error) {
	batchID := uuid.New()
	logger := ctxlog.From(ctx).With(slog.String("batch_id", batchID.String()))

	batch := s.deps.Normalizer.NormalizeBatch(rows)
	version, err := s.deps.Store.Upsert(ctx, batch.Accepted)
	if err != nil {
		return nil, err
	}

	report := &IngestReport{
		BatchID:  batchID.String(),
		Received: len(rows),
		Accepted: len(batch.Accepted),
		Rejected: len(batch.Rejected),
		Version:  version,
		Regions:  s.deps.Store.Regions(),
	}
	for _, r := range batch.Rejected {
		report.Rejections = append(report.Rejections, RejectionDTO{
			Index:   r.Index,
			Reason:  string(r.Err.Reason),
			Field:   r.Err.Field,
			Message: r.Err.Message,
		})
	}

	logger.Info("ingest completed",
		slog.Int("received", report.Received),
		slog.Int("accepted", report.Accepted),
		slog.Int("rejected", report.Rejected),
		slog.Uint64("version", version),
	)
	for _, r := range batch.Rejected {
		logger.Debug("row rejected", slog.Int("index", r.Index), slog.Any("error", r.Err))
	}
	return report, nil
}

// IsNotFound reports whether err means the region has no data.
func IsNotFound(err error) bool {
	return errors.Is(err, ili.ErrUnknownRegion)
}
