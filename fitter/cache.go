package fitter

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/m-mizutani/ctxlog"
	"golang.org/x/sync/singleflight"

	"github.com/anita2210/flu-forecast-hub/store"
)

// VersionSource reports the current version of a region's series.
type VersionSource interface {
	RegionVersion(region string) uint64
}

// SnapshotSource is the read side of the series store used for refits.
// Recent is used when the fitter has a lookback, so gaps older than the
// lookback window do not block a refit.
type SnapshotSource interface {
	VersionSource
	Snapshot(region string) (store.Snapshot, error)
	Recent(region string, n int) (store.Snapshot, error)
}

// IsStale reports whether a model fitted at fitted is too old for a series
// at current. threshold is the number of versions tolerated.
func IsStale(current, fitted, threshold uint64) bool {
	return current > fitted && current-fitted > threshold
}

// Cache holds the latest model per region and refits on demand when the
// store has moved past it. Concurrent refits of one region share a single
// fit.
type Cache struct {
	fitter     *Fitter
	src        SnapshotSource
	staleAfter uint64

	mu     sync.RWMutex
	models map[string]*FittedModel
	group  singleflight.Group
}

// NewCache creates a model cache. staleAfter is the number of region
// versions a cached model may lag behind before it is refitted.
func NewCache(f *Fitter, src SnapshotSource, staleAfter uint64) *Cache {
	return &Cache{
		fitter:     f,
		src:        src,
		staleAfter: staleAfter,
		models:     make(map[string]*FittedModel),
	}
}

// StaleAfter returns the tolerated version lag.
func (c *Cache) StaleAfter() uint64 { return c.staleAfter }

// Peek returns the cached model for region without checking freshness.
func (c *Cache) Peek(region string) (*FittedModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[region]
	return m, ok
}

func (c *Cache) fresh(region string) (*FittedModel, bool) {
	m, ok := c.Peek(region)
	if !ok || IsStale(c.src.RegionVersion(region), m.Version, c.staleAfter) {
		return nil, false
	}
	return m, true
}

// Get returns a fresh model for region, refitting if needed.
func (c *Cache) Get(ctx context.Context, region string) (*FittedModel, error) {
	if m, ok := c.fresh(region); ok {
		return m, nil
	}

	v, err, shared := c.group.Do(region, func() (any, error) {
		if m, ok := c.fresh(region); ok {
			return m, nil
		}
		return c.refit(ctx, region)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		ctxlog.From(ctx).Debug("shared model refit", slog.String("region", region))
	}
	return v.(*FittedModel), nil
}

// Refit fits region from the current snapshot regardless of freshness.
func (c *Cache) Refit(ctx context.Context, region string) (*FittedModel, error) {
	v, err, _ := c.group.Do(region, func() (any, error) {
		return c.refit(ctx, region)
	})
	if err != nil {
		return nil, err
	}
	return v.(*FittedModel), nil
}

func (c *Cache) refit(ctx context.Context, region string) (*FittedModel, error) {
	logger := ctxlog.From(ctx)

	snap, err := c.snapshot(region)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	m, err := c.fitter.Fit(snap)
	if err != nil {
		logger.Warn("model fit failed",
			slog.String("region", region),
			slog.Uint64("version", snap.Version),
			slog.Any("error", err),
		)
		return nil, err
	}

	c.mu.Lock()
	if cur, ok := c.models[region]; !ok || cur.Version <= m.Version {
		c.models[region] = m
	}
	c.mu.Unlock()

	attrs := []any{
		slog.String("region", region),
		slog.String("order", m.Order.String()),
		slog.Uint64("version", m.Version),
		slog.Int("n_obs", m.NObs),
		slog.String("aic", strconv.FormatFloat(m.AIC, 'f', 3, 64)),
		slog.Duration("elapsed", time.Since(started)),
	}
	if m.Backtest != nil {
		attrs = append(attrs,
			slog.Float64("backtest_rmse", m.Backtest.Model.RMSE),
			slog.Float64("baseline_rmse", m.Backtest.Baseline.RMSE),
		)
	}
	logger.Info("model refitted", attrs...)
	return m, nil
}

func (c *Cache) snapshot(region string) (store.Snapshot, error) {
	if n := c.fitter.cfg.Lookback; n > 0 {
		return c.src.Recent(region, n)
	}
	return c.src.Snapshot(region)
}

// Invalidate drops the cached model of region.
func (c *Cache) Invalidate(region string) {
	c.mu.Lock()
	delete(c.models, region)
	c.mu.Unlock()
}
