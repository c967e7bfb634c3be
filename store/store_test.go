package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anita2210/flu-forecast-hub/ili"
	"github.com/anita2210/flu-forecast-hub/store"
)

var ingestBase = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rec(region, date string, v float64, ingestHours int) ili.ObservationRecord {
	return ili.ObservationRecord{
		Region:     region,
		WeekStart:  day(date),
		ILI:        v,
		IngestedAt: ingestBase.Add(time.Duration(ingestHours) * time.Hour),
	}
}

func weekly(region string, start string, values ...float64) []ili.ObservationRecord {
	out := make([]ili.ObservationRecord, len(values))
	for i, v := range values {
		out[i] = ili.ObservationRecord{
			Region:     region,
			WeekStart:  day(start).AddDate(0, 0, 7*i),
			ILI:        v,
			IngestedAt: ingestBase,
		}
	}
	return out
}

func TestUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.DefaultConfig())
	batch := weekly("NATIONAL", "2024-01-01", 2.0, 2.5, 3.0)

	v1, err := s.Upsert(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1)

	v2, err := s.Upsert(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	points, err := s.Window("NATIONAL", day("2024-01-01"), day("2024-01-15"))
	require.NoError(t, err)
	assert.Len(t, points, 3)
}

func TestUpsertEmptyBatch(t *testing.T) {
	s := store.New(store.DefaultConfig())
	v, err := s.Upsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)
	assert.Empty(t, s.Regions())
}

func TestUpsertLatestIngestWins(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.DefaultConfig())

	_, err := s.Upsert(ctx, []ili.ObservationRecord{rec("NATIONAL", "2024-01-01", 2.0, 0)})
	require.NoError(t, err)

	// unsorted, duplicated batch; the newest delivery of the week wins
	v, err := s.Upsert(ctx, []ili.ObservationRecord{
		rec("NATIONAL", "2024-01-08", 2.2, 1),
		rec("NATIONAL", "2024-01-01", 1.8, 3),
		rec("NATIONAL", "2024-01-01", 1.9, 2),
		rec("NATIONAL", "2024-01-08", 2.2, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	points, err := s.LatestN("NATIONAL", 2)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 1.8, points[0].Value)
	assert.Equal(t, 2.2, points[1].Value)

	// an older delivery never overrides
	v, err = s.Upsert(ctx, []ili.ObservationRecord{rec("NATIONAL", "2024-01-01", 9.9, -5)})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestUpsertEqualIngestPrefersLargerValue(t *testing.T) {
	ctx := context.Background()
	a := store.New(store.DefaultConfig())
	b := store.New(store.DefaultConfig())

	low := rec("NATIONAL", "2024-01-01", 2.0, 0)
	high := rec("NATIONAL", "2024-01-01", 2.4, 0)

	_, err := a.Upsert(ctx, []ili.ObservationRecord{low, high})
	require.NoError(t, err)
	_, err = b.Upsert(ctx, []ili.ObservationRecord{high, low})
	require.NoError(t, err)

	pa, err := a.LatestN("NATIONAL", 1)
	require.NoError(t, err)
	pb, err := b.LatestN("NATIONAL", 1)
	require.NoError(t, err)
	assert.Equal(t, 2.4, pa[0].Value)
	assert.Equal(t, pa, pb)

	da, _ := a.Digest("NATIONAL")
	db, _ := b.Digest("NATIONAL")
	assert.Equal(t, da, db)
}

func TestUpsertSameValueKeepsVersion(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.DefaultConfig())

	_, err := s.Upsert(ctx, []ili.ObservationRecord{rec("NATIONAL", "2024-01-01", 2.0, 0)})
	require.NoError(t, err)
	d1, _ := s.Digest("NATIONAL")

	v, err := s.Upsert(ctx, []ili.ObservationRecord{rec("NATIONAL", "2024-01-01", 2.0, 10)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
	assert.Equal(t, uint64(1), s.RegionVersion("NATIONAL"))

	d2, _ := s.Digest("NATIONAL")
	assert.Equal(t, d1, d2)

	// the newer ingest time is retained, so an in-between delivery loses
	v, err = s.Upsert(ctx, []ili.ObservationRecord{rec("NATIONAL", "2024-01-01", 5.0, 5)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	records, err := s.Records("NATIONAL")
	require.NoError(t, err)
	assert.Equal(t, ingestBase.Add(10*time.Hour), records[0].IngestedAt)
}

func TestRegionVersion(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.DefaultConfig())

	_, err := s.Upsert(ctx, append(weekly("NATIONAL", "2024-01-01", 1, 2), weekly("HHS_REGION_1", "2024-01-01", 3, 4)...))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.RegionVersion("NATIONAL"))
	assert.Equal(t, uint64(1), s.RegionVersion("HHS_REGION_1"))

	v, err := s.Upsert(ctx, weekly("NATIONAL", "2024-01-15", 5))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
	assert.Equal(t, uint64(2), s.RegionVersion("NATIONAL"))
	assert.Equal(t, uint64(1), s.RegionVersion("HHS_REGION_1"))
	assert.Equal(t, uint64(0), s.RegionVersion("UNKNOWN"))

	assert.Equal(t, []string{"HHS_REGION_1", "NATIONAL"}, s.Regions())
}

func TestUpsertCoercesToMonday(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.DefaultConfig())
	_, err := s.Upsert(ctx, []ili.ObservationRecord{rec("NATIONAL", "2024-01-04", 2.0, 0)})
	require.NoError(t, err)

	points, err := s.LatestN("NATIONAL", 1)
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-01"), points[0].Date)
}

func TestWindowInterpolatesShortGap(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.DefaultConfig())
	_, err := s.Upsert(ctx, []ili.ObservationRecord{
		rec("NATIONAL", "2024-01-01", 2.0, 0),
		rec("NATIONAL", "2024-01-15", 3.0, 0),
	})
	require.NoError(t, err)

	points, err := s.Window("NATIONAL", day("2024-01-01"), day("2024-01-15"))
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, day("2024-01-08"), points[1].Date)
	assert.True(t, points[1].Interpolated)
	assert.InDelta(t, 2.5, points[1].Value, 1e-12)
	assert.False(t, points[0].Interpolated)
	assert.False(t, points[2].Interpolated)
}

func TestWindowStartInsideShortGap(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.DefaultConfig())
	_, err := s.Upsert(ctx, []ili.ObservationRecord{
		rec("NATIONAL", "2024-01-15", 2.0, 0),
		rec("NATIONAL", "2024-02-05", 3.5, 0),
		rec("NATIONAL", "2024-02-12", 4.0, 0),
	})
	require.NoError(t, err)

	window, err := s.Window("NATIONAL", day("2024-01-22"), day("2024-02-12"))
	require.NoError(t, err)
	latest, err := s.LatestN("NATIONAL", 4)
	require.NoError(t, err)
	assert.Equal(t, latest, window)

	require.Len(t, window, 4)
	assert.Equal(t, day("2024-01-22"), window[0].Date)
	assert.True(t, window[0].Interpolated)
	assert.InDelta(t, 2.5, window[0].Value, 1e-12)
	assert.True(t, window[1].Interpolated)
	assert.InDelta(t, 3.0, window[1].Value, 1e-12)

	// both bounds inside the gap
	inner, err := s.Window("NATIONAL", day("2024-01-22"), day("2024-01-29"))
	require.NoError(t, err)
	assert.Equal(t, window[:2], inner)
}

func TestWindowGapTooLong(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.DefaultConfig())
	_, err := s.Upsert(ctx, []ili.ObservationRecord{
		rec("NATIONAL", "2024-01-01", 2.0, 0),
		rec("NATIONAL", "2024-02-12", 3.0, 0),
	})
	require.NoError(t, err)

	_, err = s.Window("NATIONAL", day("2024-01-01"), day("2024-02-12"))
	var gapErr *ili.DataGapError
	require.ErrorAs(t, err, &gapErr)
	assert.Equal(t, 5, gapErr.MissingWeeks)
	assert.Equal(t, 2, gapErr.MaxGapWeeks)
	assert.Equal(t, day("2024-01-01"), gapErr.After)
	assert.Equal(t, day("2024-02-12"), gapErr.Before)

	// a window on one side of the gap is fine
	points, err := s.Window("NATIONAL", day("2024-02-01"), day("2024-03-01"))
	require.NoError(t, err)
	assert.Len(t, points, 1)

	_, err = s.Snapshot("NATIONAL")
	assert.ErrorAs(t, err, &gapErr)
}

func TestWindowConfiguredGap(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.Config{MaxGapWeeks: 5})
	_, err := s.Upsert(ctx, []ili.ObservationRecord{
		rec("NATIONAL", "2024-01-01", 2.0, 0),
		rec("NATIONAL", "2024-02-12", 8.0, 0),
	})
	require.NoError(t, err)

	points, err := s.Window("NATIONAL", day("2024-01-01"), day("2024-02-12"))
	require.NoError(t, err)
	assert.Len(t, points, 7)
	assert.InDelta(t, 3.0, points[1].Value, 1e-12)
}

func TestWindowErrors(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.DefaultConfig())
	_, err := s.Upsert(ctx, weekly("NATIONAL", "2024-01-01", 1, 2, 3))
	require.NoError(t, err)

	_, err = s.Window("NATIONAL", day("2024-02-01"), day("2024-01-01"))
	assert.ErrorIs(t, err, ili.ErrInvalidRange)

	_, err = s.Window("NOWHERE", day("2024-01-01"), day("2024-02-01"))
	assert.ErrorIs(t, err, ili.ErrUnknownRegion)

	points, err := s.Window("NATIONAL", day("2025-01-01"), day("2025-02-01"))
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestLatestN(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.DefaultConfig())
	_, err := s.Upsert(ctx, []ili.ObservationRecord{
		rec("NATIONAL", "2023-10-02", 1.0, 0),
		// ten missing weeks
		rec("NATIONAL", "2023-12-18", 4.0, 0),
		rec("NATIONAL", "2023-12-25", 5.0, 0),
		rec("NATIONAL", "2024-01-15", 2.0, 0),
	})
	require.NoError(t, err)

	points, err := s.LatestN("NATIONAL", 3)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, day("2024-01-01"), points[0].Date)
	assert.True(t, points[0].Interpolated)
	assert.InDelta(t, 4.0, points[0].Value, 1e-12)
	assert.InDelta(t, 3.0, points[1].Value, 1e-12)
	assert.Equal(t, day("2024-01-15"), points[2].Date)

	points, err = s.LatestN("NATIONAL", 5)
	require.NoError(t, err)
	assert.Equal(t, day("2023-12-18"), points[0].Date)

	_, err = s.LatestN("NATIONAL", 6)
	var gapErr *ili.DataGapError
	assert.ErrorAs(t, err, &gapErr)

	_, err = s.LatestN("NATIONAL", 0)
	assert.ErrorIs(t, err, ili.ErrInvalidRange)

	_, err = s.LatestN("NOWHERE", 1)
	assert.ErrorIs(t, err, ili.ErrUnknownRegion)
}

func TestLatestNShortSeries(t *testing.T) {
	s := store.New(store.DefaultConfig())
	_, err := s.Upsert(context.Background(), weekly("NATIONAL", "2024-01-01", 1, 2))
	require.NoError(t, err)

	points, err := s.LatestN("NATIONAL", 20)
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestSnapshot(t *testing.T) {
	s := store.New(store.DefaultConfig())
	_, err := s.Upsert(context.Background(), weekly("NATIONAL", "2024-01-01", 2.0, 2.5, 3.0))
	require.NoError(t, err)

	snap, err := s.Snapshot("NATIONAL")
	require.NoError(t, err)
	assert.Equal(t, "NATIONAL", snap.Region)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, 3, snap.Len())
	assert.Equal(t, day("2024-01-15"), snap.LastDate())

	d, err := s.Digest("NATIONAL")
	require.NoError(t, err)
	assert.Equal(t, d, snap.Digest)

	_, err = s.Upsert(context.Background(), weekly("NATIONAL", "2024-01-22", 3.5))
	require.NoError(t, err)
	// the captured snapshot is unaffected by later writes
	assert.Equal(t, 3, snap.Len())
	assert.NotEqual(t, d, mustDigest(t, s, "NATIONAL"))
}

func mustDigest(t *testing.T, s *store.Store, region string) uint64 {
	t.Helper()
	d, err := s.Digest(region)
	require.NoError(t, err)
	return d
}

type fakePersister struct {
	mu      sync.Mutex
	loaded  []ili.ObservationRecord
	saved   [][]ili.ObservationRecord
	saveErr error
}

func (f *fakePersister) Load(context.Context) ([]ili.ObservationRecord, error) {
	return f.loaded, nil
}

func (f *fakePersister) Save(_ context.Context, records []ili.ObservationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, records)
	return nil
}

func TestOpenHydratesFromPersister(t *testing.T) {
	ctx := context.Background()
	p := &fakePersister{loaded: weekly("NATIONAL", "2024-01-01", 1, 2, 3)}

	s, err := store.Open(ctx, store.DefaultConfig(), p)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Version())
	assert.Empty(t, p.saved, "hydration is not written back")

	_, err = s.Upsert(ctx, weekly("NATIONAL", "2024-01-22", 4))
	require.NoError(t, err)
	require.Len(t, p.saved, 1)
	assert.Len(t, p.saved[0], 1)

	// replays are not saved
	_, err = s.Upsert(ctx, weekly("NATIONAL", "2024-01-22", 4))
	require.NoError(t, err)
	assert.Len(t, p.saved, 1)
}

func TestUpsertPersistFailureLeavesState(t *testing.T) {
	ctx := context.Background()
	p := &fakePersister{}
	s, err := store.Open(ctx, store.DefaultConfig(), p)
	require.NoError(t, err)

	_, err = s.Upsert(ctx, weekly("NATIONAL", "2024-01-01", 1, 2))
	require.NoError(t, err)

	p.saveErr = errors.New("connection reset")
	v, err := s.Upsert(ctx, weekly("NATIONAL", "2024-01-15", 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, p.saveErr)
	assert.Equal(t, uint64(1), v)
	assert.Equal(t, uint64(1), s.Version())

	points, err := s.LatestN("NATIONAL", 10)
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestConcurrentUpsertAndRead(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.DefaultConfig())
	_, err := s.Upsert(ctx, weekly("NATIONAL", "2020-01-06", 1))
	require.NoError(t, err)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				week := 1 + w*perWriter + i
				r := ili.ObservationRecord{
					Region:     "NATIONAL",
					WeekStart:  day("2020-01-06").AddDate(0, 0, 7*week),
					ILI:        float64(week%10) + 0.5,
					IngestedAt: ingestBase,
				}
				_, err := s.Upsert(ctx, []ili.ObservationRecord{r})
				assert.NoError(t, err)
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			recs, err := s.Records("NATIONAL")
			if !assert.NoError(t, err) {
				return
			}
			for j := 1; j < len(recs); j++ {
				assert.True(t, recs[j-1].WeekStart.Before(recs[j].WeekStart))
			}
		}
	}()

	wg.Wait()
	<-done

	assert.Equal(t, uint64(1+writers*perWriter), s.Version())
	recs, err := s.Records("NATIONAL")
	require.NoError(t, err)
	assert.Len(t, recs, 1+writers*perWriter)
}
