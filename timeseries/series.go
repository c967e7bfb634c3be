// Package timeseries provides the weekly series type used for model fitting
// and the calendar arithmetic shared by the store and the forecaster.
package timeseries

import (
	"errors"
	"math"
	"time"

	"github.com/anita2210/flu-forecast-hub/ili"
)

// Series is a weekly time series: Dates[i] is the Monday of the week whose
// observation is Values[i].
type Series struct {
	Dates  []time.Time
	Values []float64
	Name   string
}

// epoch anchors synthetic dates for series built from bare values.
var epoch = time.Date(2000, 1, 3, 0, 0, 0, 0, time.UTC)

// New creates a weekly series from values, dated consecutively from a fixed
// Monday. Useful for tests and for values with no calendar meaning.
func New(values []float64) *Series {
	dates := make([]time.Time, len(values))
	for i := range dates {
		dates[i] = AddWeeks(epoch, i)
	}
	return &Series{Dates: dates, Values: values}
}

// NewWithDates creates a series with explicit dates.
func NewWithDates(dates []time.Time, values []float64) (*Series, error) {
	if len(dates) != len(values) {
		return nil, errors.New("dates and values must have the same length")
	}
	return &Series{Dates: dates, Values: values}, nil
}

// FromPoints copies store points into a series.
func FromPoints(name string, points []ili.SeriesPoint) *Series {
	s := &Series{
		Dates:  make([]time.Time, len(points)),
		Values: make([]float64, len(points)),
		Name:   name,
	}
	for i, p := range points {
		s.Dates[i] = p.Date
		s.Values[i] = p.Value
	}
	return s
}

// Len returns the length of the series.
func (s *Series) Len() int {
	return len(s.Values)
}

// LastDate returns the date of the final observation, or the zero time.
func (s *Series) LastDate() time.Time {
	if len(s.Dates) == 0 {
		return time.Time{}
	}
	return s.Dates[len(s.Dates)-1]
}

// Mean calculates the arithmetic mean of the series.
func (s *Series) Mean() float64 {
	if len(s.Values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range s.Values {
		sum += v
	}
	return sum / float64(len(s.Values))
}

// Variance calculates the sample variance of the series.
func (s *Series) Variance() float64 {
	if len(s.Values) < 2 {
		return 0
	}
	mean := s.Mean()
	sumSq := 0.0
	for _, v := range s.Values {
		diff := v - mean
		sumSq += diff * diff
	}
	return sumSq / float64(len(s.Values)-1)
}

// IsConstant reports whether every value equals the first within tol.
func (s *Series) IsConstant(tol float64) bool {
	for _, v := range s.Values {
		if math.Abs(v-s.Values[0]) > tol {
			return false
		}
	}
	return true
}

// Diff calculates the first difference of the series.
func (s *Series) Diff() *Series {
	return s.DiffN(1)
}

// DiffN applies first differencing n times. The result is n points shorter
// and keeps the dates of the later observation of each pair.
func (s *Series) DiffN(n int) *Series {
	if n <= 0 {
		return s.Copy()
	}
	if len(s.Values) <= n {
		return &Series{Name: s.Name}
	}

	values := make([]float64, len(s.Values))
	copy(values, s.Values)
	for k := 0; k < n; k++ {
		for i := len(values) - 1; i > k; i-- {
			values[i] -= values[i-1]
		}
	}

	out := &Series{
		Values: values[n:],
		Dates:  make([]time.Time, len(values)-n),
		Name:   s.Name,
	}
	if len(s.Dates) == len(s.Values) {
		copy(out.Dates, s.Dates[n:])
	}
	return out
}

// Slice returns a copy of the points in [start, end).
func (s *Series) Slice(start, end int) *Series {
	start = max(start, 0)
	end = min(end, len(s.Values))
	if start >= end {
		return &Series{Name: s.Name}
	}

	out := &Series{
		Values: make([]float64, end-start),
		Dates:  make([]time.Time, end-start),
		Name:   s.Name,
	}
	copy(out.Values, s.Values[start:end])
	if len(s.Dates) >= end {
		copy(out.Dates, s.Dates[start:end])
	}
	return out
}

// Tail returns a copy of the last n points.
func (s *Series) Tail(n int) *Series {
	return s.Slice(len(s.Values)-n, len(s.Values))
}

// Copy creates a deep copy of the series.
func (s *Series) Copy() *Series {
	return s.Slice(0, len(s.Values))
}
