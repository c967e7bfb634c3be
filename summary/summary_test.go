package summary_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anita2210/flu-forecast-hub/ili"
	"github.com/anita2210/flu-forecast-hub/summary"
)

func week(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 7*n)
}

func TestSummarize(t *testing.T) {
	window := []ili.SeriesPoint{
		{Date: week(0), Value: 1.5},
		{Date: week(1), Value: 3},
		{Date: week(2), Value: 6.5},
		{Date: week(3), Value: 6.5, Interpolated: true},
		{Date: week(4), Value: 4},
	}

	s, err := summary.Summarize(window, summary.DefaultBands())
	require.NoError(t, err)

	assert.Equal(t, 5, s.Count)
	assert.Equal(t, 1, s.Interpolated)
	assert.InDelta(t, 4.3, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(4.825), s.StdDev, 1e-12)
	assert.Equal(t, 4.0, s.Median)
	assert.Equal(t, 1.5, s.Min)
	assert.Equal(t, 6.5, s.Max)
	assert.Equal(t, week(2), s.PeakWeek)
	assert.Equal(t, 6.5, s.PeakValue)
	assert.Equal(t, week(0), s.Start)
	assert.Equal(t, week(4), s.End)

	require.Len(t, s.Histogram, 4)
	counts := []int{}
	labels := []string{}
	for _, b := range s.Histogram {
		counts = append(counts, b.Count)
		labels = append(labels, b.Label)
	}
	assert.Equal(t, []int{1, 1, 1, 2}, counts)
	assert.Equal(t, []string{"Low", "Moderate", "High", "Very High"}, labels)
	assert.True(t, math.IsInf(s.Histogram[0].Lower, -1))
	assert.Equal(t, 2.0, s.Histogram[0].Upper)
	assert.Equal(t, 6.0, s.Histogram[3].Lower)
	assert.True(t, math.IsInf(s.Histogram[3].Upper, 1))
}

func TestSummarizePeakTieEarliest(t *testing.T) {
	window := []ili.SeriesPoint{
		{Date: week(5), Value: 7},
		{Date: week(1), Value: 7},
		{Date: week(3), Value: 2},
	}
	s, err := summary.Summarize(window, summary.DefaultBands())
	require.NoError(t, err)
	assert.Equal(t, week(1), s.PeakWeek)
	assert.Equal(t, 7.0, s.Median)
}

func TestSummarizeEmptyWindow(t *testing.T) {
	s, err := summary.Summarize(nil, summary.DefaultBands())
	require.NoError(t, err)
	assert.Equal(t, 0, s.Count)
	assert.Zero(t, s.Mean)
	assert.True(t, s.PeakWeek.IsZero())
	require.Len(t, s.Histogram, 4)
	for _, b := range s.Histogram {
		assert.Zero(t, b.Count)
	}
}

func TestSummarizeSinglePoint(t *testing.T) {
	s, err := summary.Summarize([]ili.SeriesPoint{{Date: week(0), Value: 2}}, summary.DefaultBands())
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.StdDev)
	assert.Equal(t, 2.0, s.Median)
	// 2 sits on the Low/Moderate boundary and belongs to the upper band
	assert.Equal(t, 1, s.Histogram[1].Count)
}

func TestSummarizeInvalidThresholds(t *testing.T) {
	window := []ili.SeriesPoint{{Date: week(0), Value: 2}}
	tests := map[string]summary.Bands{
		"decreasing": {Thresholds: []float64{4, 2}},
		"duplicate":  {Thresholds: []float64{2, 2, 6}},
		"nan":        {Thresholds: []float64{2, math.NaN()}},
		"inf":        {Thresholds: []float64{math.Inf(1)}},
		"labels":     {Thresholds: []float64{2, 4}, Labels: []string{"Low", "High"}},
	}
	for name, bands := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := summary.Summarize(window, bands)
			assert.ErrorIs(t, err, ili.ErrInvalidThresholds)
		})
	}
}

func TestSummarizeNoThresholds(t *testing.T) {
	s, err := summary.Summarize([]ili.SeriesPoint{{Date: week(0), Value: 2}}, summary.Bands{})
	require.NoError(t, err)
	require.Len(t, s.Histogram, 1)
	assert.Equal(t, "band 0", s.Histogram[0].Label)
	assert.Equal(t, 1, s.Histogram[0].Count)
}

func TestBandsSeverity(t *testing.T) {
	b := summary.DefaultBands()
	assert.Equal(t, "Low", b.Severity(1.99))
	assert.Equal(t, "Moderate", b.Severity(2))
	assert.Equal(t, "High", b.Severity(5.9))
	assert.Equal(t, "Very High", b.Severity(6))
	assert.Equal(t, "Very High", b.Severity(60))
}

func TestLoadBands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bands.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds: [1.5, 3, 5]\nlabels: [Minimal, Low, Moderate, High]\n"), 0o600))

	b, err := summary.LoadBands(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 3, 5}, b.Thresholds)
	assert.Equal(t, "Minimal", b.Severity(1))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("thresholds: [3, 1]\n"), 0o600))
	_, err = summary.LoadBands(bad)
	assert.ErrorIs(t, err, ili.ErrInvalidThresholds)

	_, err = summary.LoadBands(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = summary.ParseBands([]byte("thresholds: {"))
	assert.Error(t, err)
}

func TestFluSeason(t *testing.T) {
	assert.Equal(t, summary.Winter, summary.FluSeason(1))
	assert.Equal(t, summary.Winter, summary.FluSeason(10))
	assert.Equal(t, summary.Spring, summary.FluSeason(11))
	assert.Equal(t, summary.Spring, summary.FluSeason(22))
	assert.Equal(t, summary.Summer, summary.FluSeason(23))
	assert.Equal(t, summary.Summer, summary.FluSeason(35))
	assert.Equal(t, summary.Fall, summary.FluSeason(36))
	assert.Equal(t, summary.Fall, summary.FluSeason(47))
	assert.Equal(t, summary.Winter, summary.FluSeason(48))
	assert.Equal(t, summary.Winter, summary.FluSeason(0))
}

func TestCalendarSeason(t *testing.T) {
	assert.Equal(t, summary.Winter, summary.CalendarSeason(time.December))
	assert.Equal(t, summary.Spring, summary.CalendarSeason(time.April))
	assert.Equal(t, summary.Summer, summary.CalendarSeason(time.August))
	assert.Equal(t, summary.Fall, summary.CalendarSeason(time.October))
}

func TestBySeason(t *testing.T) {
	points := []ili.SeriesPoint{
		{Date: week(0), Value: 5},  // 2024 week 1, winter
		{Date: week(1), Value: 7},  // week 2, winter
		{Date: week(15), Value: 2}, // week 16, spring
		{Date: time.Date(2023, 12, 25, 0, 0, 0, 0, time.UTC), Value: 6},
	}
	got := summary.BySeason(points)
	require.Len(t, got, 3)

	assert.Equal(t, 2023, got[0].Year)
	assert.Equal(t, summary.Winter, got[0].Season)
	assert.Equal(t, 1, got[0].Count)
	assert.Zero(t, got[0].StdDev)

	assert.Equal(t, 2024, got[1].Year)
	assert.Equal(t, summary.Winter, got[1].Season)
	assert.Equal(t, 2, got[1].Count)
	assert.Equal(t, 6.0, got[1].Mean)
	assert.Equal(t, 5.0, got[1].Min)
	assert.Equal(t, 7.0, got[1].Max)
	assert.InDelta(t, math.Sqrt2, got[1].StdDev, 1e-12)

	assert.Equal(t, summary.Spring, got[2].Season)
}

func TestByWeekOfYear(t *testing.T) {
	points := []ili.SeriesPoint{
		{Date: time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), Value: 4},
		{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: 6},
		{Date: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), Value: 3},
	}
	got := summary.ByWeekOfYear(points)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Week)
	assert.Equal(t, 2, got[0].Count)
	assert.Equal(t, 5.0, got[0].Mean)
	assert.Equal(t, 2, got[1].Week)
	assert.Equal(t, 3.0, got[1].Mean)

	assert.Empty(t, summary.ByWeekOfYear(nil))
}
