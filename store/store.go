// Package store holds the cleaned weekly ILI series for every region and
// answers window queries against a consistent, versioned snapshot.
//
// Writers are serialized; every accepted write that changes at least one
// point produces a new immutable state and bumps the store version. Readers
// load the current state without locking and therefore never observe a
// half-applied batch.
package store

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/anita2210/flu-forecast-hub/ili"
	"github.com/anita2210/flu-forecast-hub/timeseries"
)

// DefaultMaxGapWeeks is the longest run of missing weeks filled by
// interpolation.
const DefaultMaxGapWeeks = 2

// Config configures a Store.
type Config struct {
	MaxGapWeeks int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{MaxGapWeeks: DefaultMaxGapWeeks}
}

// Persister writes accepted records through to durable storage.
type Persister interface {
	Load(ctx context.Context) ([]ili.ObservationRecord, error)
	Save(ctx context.Context, records []ili.ObservationRecord) error
}

// Snapshot is the gap-checked series of one region at a version.
type Snapshot struct {
	Region  string
	Version uint64 // version of the last write that changed this region
	Digest  uint64
	Points  []ili.SeriesPoint
}

// Len returns the number of points.
func (s Snapshot) Len() int { return len(s.Points) }

// LastDate returns the date of the final point, or the zero time.
func (s Snapshot) LastDate() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[len(s.Points)-1].Date
}

type regionState struct {
	records []ili.ObservationRecord // sorted by WeekStart, unique
	version uint64
	digest  uint64
}

type state struct {
	version uint64
	regions map[string]*regionState
}

// Store is the single source of truth for observations.
type Store struct {
	cfg       Config
	persister Persister

	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[state]
}

// New creates an empty in-memory store.
func New(cfg Config) *Store {
	if cfg.MaxGapWeeks < 0 {
		cfg.MaxGapWeeks = 0
	}
	s := &Store{cfg: cfg}
	s.cur.Store(&state{regions: map[string]*regionState{}})
	return s
}

// Open creates a store backed by persister and hydrates it from Load. A nil
// persister gives a memory-only store.
func Open(ctx context.Context, cfg Config, persister Persister) (*Store, error) {
	s := New(cfg)
	if persister == nil {
		return s, nil
	}

	records, err := persister.Load(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load observations")
	}
	if _, err := s.Upsert(ctx, records); err != nil {
		return nil, err
	}
	s.persister = persister

	ctxlog.From(ctx).Info("store hydrated",
		slog.Int("records", len(records)),
		slog.Int("regions", len(s.Regions())),
		slog.Uint64("version", s.Version()),
	)
	return s, nil
}

// Upsert merges records by (region, week) with latest-ingest-wins and
// returns the resulting version. The version advances once per call that
// changes at least one point; replaying a batch is a no-op. Changed records
// are saved before the new state becomes visible, and a failed save leaves
// the store untouched.
func (s *Store) Upsert(ctx context.Context, records []ili.ObservationRecord) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cur.Load()
	if len(records) == 0 {
		return old.version, nil
	}

	// winners per key, seeded lazily from the current state
	pending := make(map[ili.Key]ili.ObservationRecord)
	for _, rec := range records {
		rec.WeekStart = timeseries.MondayOf(rec.WeekStart)
		key := rec.Key()

		existing, ok := pending[key]
		if !ok {
			existing, ok = old.lookup(key)
		}
		if ok && !rec.Supersedes(existing) {
			continue
		}
		pending[key] = rec
	}

	// A newer ingest of the same value is kept but does not change a point.
	valueChanged := make(map[string]bool)
	touched := make(map[string]bool)
	changed := make([]ili.ObservationRecord, 0, len(pending))
	for key, rec := range pending {
		orig, ok := old.lookup(key)
		if ok && orig.ILI == rec.ILI && orig.IngestedAt.Equal(rec.IngestedAt) {
			continue
		}
		if !ok || orig.ILI != rec.ILI {
			valueChanged[rec.Region] = true
		}
		touched[rec.Region] = true
		changed = append(changed, rec)
	}
	if len(changed) == 0 {
		return old.version, nil
	}
	sort.Slice(changed, func(i, j int) bool {
		if changed[i].Region != changed[j].Region {
			return changed[i].Region < changed[j].Region
		}
		return changed[i].WeekStart.Before(changed[j].WeekStart)
	})

	if s.persister != nil {
		if err := s.persister.Save(ctx, changed); err != nil {
			return old.version, goerr.Wrap(err, "failed to persist observations",
				goerr.V("records", len(changed)))
		}
	}

	next := &state{
		version: old.version,
		regions: make(map[string]*regionState, len(old.regions)+len(touched)),
	}
	for region, rs := range old.regions {
		next.regions[region] = rs
	}
	if len(valueChanged) > 0 {
		next.version++
	}

	byRegion := make(map[string][]ili.ObservationRecord, len(touched))
	for _, rec := range changed {
		byRegion[rec.Region] = append(byRegion[rec.Region], rec)
	}
	for region, recs := range byRegion {
		prev := old.regions[region]
		rs := &regionState{}
		if prev != nil {
			rs.version = prev.version
			rs.records = mergeRecords(prev.records, recs)
		} else {
			rs.records = recs
		}
		if valueChanged[region] {
			rs.version = next.version
		}
		rs.digest = digest(rs.records)
		next.regions[region] = rs
	}

	s.cur.Store(next)

	ctxlog.From(ctx).Debug("observations upserted",
		slog.Int("received", len(records)),
		slog.Int("changed", len(changed)),
		slog.Int("regions", len(touched)),
		slog.Uint64("version", next.version),
	)
	return next.version, nil
}

func (st *state) lookup(key ili.Key) (ili.ObservationRecord, bool) {
	rs, ok := st.regions[key.Region]
	if !ok {
		return ili.ObservationRecord{}, false
	}
	i, found := slices.BinarySearchFunc(rs.records, key.WeekStart, func(r ili.ObservationRecord, t time.Time) int {
		return r.WeekStart.Compare(t)
	})
	if !found {
		return ili.ObservationRecord{}, false
	}
	return rs.records[i], true
}

// mergeRecords returns a new sorted slice with updates replacing or extending
// base. Both inputs are sorted by week.
func mergeRecords(base, updates []ili.ObservationRecord) []ili.ObservationRecord {
	out := make([]ili.ObservationRecord, 0, len(base)+len(updates))
	i, j := 0, 0
	for i < len(base) && j < len(updates) {
		switch c := base[i].WeekStart.Compare(updates[j].WeekStart); {
		case c < 0:
			out = append(out, base[i])
			i++
		case c > 0:
			out = append(out, updates[j])
			j++
		default:
			out = append(out, updates[j])
			i++
			j++
		}
	}
	out = append(out, base[i:]...)
	return append(out, updates[j:]...)
}

// digest hashes the (week, value) pairs of a region; ingest metadata is not
// part of the content.
func digest(records []ili.ObservationRecord) uint64 {
	h := xxhash.New()
	var buf [16]byte
	for _, r := range records {
		binary.LittleEndian.PutUint64(buf[:8], uint64(r.WeekStart.Unix()))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(r.ILI))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Version returns the current store version.
func (s *Store) Version() uint64 {
	return s.cur.Load().version
}

// RegionVersion returns the version of the last write that changed region,
// or 0 if the region is unknown.
func (s *Store) RegionVersion(region string) uint64 {
	if rs, ok := s.cur.Load().regions[region]; ok {
		return rs.version
	}
	return 0
}

// Digest returns the content hash of region's stored points.
func (s *Store) Digest(region string) (uint64, error) {
	rs, ok := s.cur.Load().regions[region]
	if !ok {
		return 0, goerr.Wrap(ili.ErrUnknownRegion, "no such region", goerr.V("region", region))
	}
	return rs.digest, nil
}

// Regions returns the known regions in lexical order.
func (s *Store) Regions() []string {
	st := s.cur.Load()
	out := make([]string, 0, len(st.regions))
	for region := range st.regions {
		out = append(out, region)
	}
	sort.Strings(out)
	return out
}

// Records returns the stored (non-interpolated) records of region.
func (s *Store) Records(region string) ([]ili.ObservationRecord, error) {
	rs, err := s.region(region)
	if err != nil {
		return nil, err
	}
	return slices.Clone(rs.records), nil
}

func (s *Store) region(region string) (*regionState, error) {
	rs, ok := s.cur.Load().regions[region]
	if !ok {
		return nil, goerr.Wrap(ili.ErrUnknownRegion, "no such region", goerr.V("region", region))
	}
	return rs, nil
}

func (s *Store) gapError(region string, g *timeseries.Gap) error {
	return &ili.DataGapError{
		Region:       region,
		After:        g.After,
		Before:       g.Before,
		MissingWeeks: g.Missing,
		MaxGapWeeks:  s.cfg.MaxGapWeeks,
	}
}

func toPoints(records []ili.ObservationRecord) []ili.SeriesPoint {
	points := make([]ili.SeriesPoint, len(records))
	for i, r := range records {
		points[i] = ili.SeriesPoint{Date: r.WeekStart, Value: r.ILI}
	}
	return points
}

// Window returns the points of region dated within [start, end], with short
// gaps interpolated.
func (s *Store) Window(region string, start, end time.Time) ([]ili.SeriesPoint, error) {
	if start.After(end) {
		return nil, goerr.Wrap(ili.ErrInvalidRange, "window start after end",
			goerr.V("start", start), goerr.V("end", end))
	}
	rs, err := s.region(region)
	if err != nil {
		return nil, err
	}

	recs := rs.records
	lo := sort.Search(len(recs), func(i int) bool { return !recs[i].WeekStart.Before(start) })
	hi := sort.Search(len(recs), func(i int) bool { return recs[i].WeekStart.After(end) })

	// Short gaps straddling either bound are filled from the records just
	// outside the window so interpolated weeks match LatestN.
	short := func(i int) bool {
		return timeseries.WeeksBetween(recs[i-1].WeekStart, recs[i].WeekStart)-1 <= s.cfg.MaxGapWeeks
	}
	from, to := lo, hi
	if lo > 0 && lo < len(recs) && recs[lo].WeekStart.After(start) && short(lo) {
		from = lo - 1
	}
	if hi > 0 && hi < len(recs) && recs[hi-1].WeekStart.Before(end) && short(hi) {
		to = hi + 1
	}
	if from >= to {
		return []ili.SeriesPoint{}, nil
	}

	points, gap := timeseries.FillGaps(toPoints(recs[from:to]), s.cfg.MaxGapWeeks)
	if gap != nil {
		return nil, s.gapError(region, gap)
	}
	first := sort.Search(len(points), func(i int) bool { return !points[i].Date.Before(start) })
	last := sort.Search(len(points), func(i int) bool { return points[i].Date.After(end) })
	return points[first:last], nil
}

// LatestN returns the last n weekly points of region. Interpolated points
// count toward n, and only gaps inside the returned range are checked.
func (s *Store) LatestN(region string, n int) ([]ili.SeriesPoint, error) {
	if n <= 0 {
		return nil, goerr.Wrap(ili.ErrInvalidRange, "point count must be positive", goerr.V("n", n))
	}
	rs, err := s.region(region)
	if err != nil {
		return nil, err
	}
	return s.latestN(region, rs, n)
}

// Recent returns the last n weekly points of region as a snapshot. Version
// and digest are read from the same state as the points, and like LatestN
// only gaps inside the returned range are checked.
func (s *Store) Recent(region string, n int) (Snapshot, error) {
	if n <= 0 {
		return Snapshot{}, goerr.Wrap(ili.ErrInvalidRange, "point count must be positive", goerr.V("n", n))
	}
	rs, err := s.region(region)
	if err != nil {
		return Snapshot{}, err
	}
	points, err := s.latestN(region, rs, n)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Region:  region,
		Version: rs.version,
		Digest:  rs.digest,
		Points:  points,
	}, nil
}

func (s *Store) latestN(region string, rs *regionState, n int) ([]ili.SeriesPoint, error) {
	recs := rs.records
	rev := make([]ili.SeriesPoint, 0, min(n, len(recs)))
	last := len(recs) - 1
	rev = append(rev, ili.SeriesPoint{Date: recs[last].WeekStart, Value: recs[last].ILI})

	for i := last - 1; i >= 0 && len(rev) < n; i-- {
		cur, prev := recs[i+1], recs[i]
		missing := timeseries.WeeksBetween(prev.WeekStart, cur.WeekStart) - 1
		if missing > s.cfg.MaxGapWeeks {
			return nil, s.gapError(region, &timeseries.Gap{After: prev.WeekStart, Before: cur.WeekStart, Missing: missing})
		}
		step := (cur.ILI - prev.ILI) / float64(missing+1)
		for k := missing; k >= 1 && len(rev) < n; k-- {
			rev = append(rev, ili.SeriesPoint{
				Date:         timeseries.AddWeeks(prev.WeekStart, k),
				Value:        prev.ILI + step*float64(k),
				Interpolated: true,
			})
		}
		if len(rev) < n {
			rev = append(rev, ili.SeriesPoint{Date: prev.WeekStart, Value: prev.ILI})
		}
	}

	slices.Reverse(rev)
	return rev, nil
}

// Snapshot returns the whole gap-checked series of region at the current
// version.
func (s *Store) Snapshot(region string) (Snapshot, error) {
	rs, err := s.region(region)
	if err != nil {
		return Snapshot{}, err
	}
	points, gap := timeseries.FillGaps(toPoints(rs.records), s.cfg.MaxGapWeeks)
	if gap != nil {
		return Snapshot{}, s.gapError(region, gap)
	}
	return Snapshot{
		Region:  region,
		Version: rs.version,
		Digest:  rs.digest,
		Points:  points,
	}, nil
}
