// Package summary computes descriptive statistics over a window of a
// regional series. All functions are pure.
package summary

import (
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/anita2210/flu-forecast-hub/ili"
)

// SeverityBucket counts the window points that fall in one band. Lower is
// -Inf for the first band and Upper +Inf for the last.
type SeverityBucket struct {
	Label string
	Lower float64
	Upper float64
	Count int
}

// Stats describes a window. PeakWeek is the earliest date holding the
// maximum.
type Stats struct {
	Count        int
	Interpolated int
	Mean         float64
	StdDev       float64 // sample standard deviation; 0 below two points
	Median       float64
	Min          float64
	Max          float64
	PeakWeek     time.Time
	PeakValue    float64
	Start        time.Time
	End          time.Time
	Histogram    []SeverityBucket
}

// Summarize computes Stats over window. Invalid bands fail with
// ili.ErrInvalidThresholds. An empty window gives zero values, Count 0 and
// an all-zero histogram.
func Summarize(window []ili.SeriesPoint, bands Bands) (Stats, error) {
	if err := bands.Validate(); err != nil {
		return Stats{}, err
	}

	s := Stats{Histogram: histogram(bands)}
	if len(window) == 0 {
		return s, nil
	}

	values := make([]float64, len(window))
	s.Start, s.End = window[0].Date, window[0].Date
	s.PeakWeek, s.PeakValue = window[0].Date, window[0].Value
	for i, p := range window {
		values[i] = p.Value
		if p.Interpolated {
			s.Interpolated++
		}
		if p.Date.Before(s.Start) {
			s.Start = p.Date
		}
		if p.Date.After(s.End) {
			s.End = p.Date
		}
		if p.Value > s.PeakValue || (p.Value == s.PeakValue && p.Date.Before(s.PeakWeek)) {
			s.PeakWeek, s.PeakValue = p.Date, p.Value
		}
		s.Histogram[bands.Classify(p.Value)].Count++
	}

	s.Count = len(values)
	s.Mean = stat.Mean(values, nil)
	if s.Count > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	s.Min, s.Max = sorted[0], sorted[len(sorted)-1]
	if mid := len(sorted) / 2; len(sorted)%2 == 1 {
		s.Median = sorted[mid]
	} else {
		s.Median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return s, nil
}

func histogram(b Bands) []SeverityBucket {
	buckets := make([]SeverityBucket, len(b.Thresholds)+1)
	for i := range buckets {
		buckets[i] = SeverityBucket{Label: b.Label(i), Lower: math.Inf(-1), Upper: math.Inf(1)}
		if i > 0 {
			buckets[i].Lower = b.Thresholds[i-1]
		}
		if i < len(b.Thresholds) {
			buckets[i].Upper = b.Thresholds[i]
		}
	}
	return buckets
}
