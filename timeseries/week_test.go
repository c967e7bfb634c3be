package timeseries

import (
	"math"
	"testing"
	"time"

	"github.com/anita2210/flu-forecast-hub/ili"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMondayOf(t *testing.T) {
	tests := []struct {
		in, want time.Time
	}{
		{date(2024, 1, 1), date(2024, 1, 1)},  // Monday
		{date(2024, 1, 7), date(2024, 1, 1)},  // Sunday
		{date(2024, 1, 3), date(2024, 1, 1)},  // Wednesday
		{date(2023, 1, 1), date(2022, 12, 26)}, // Sunday crossing the year
		{time.Date(2024, 1, 10, 15, 30, 0, 0, time.FixedZone("EST", -5*3600)), date(2024, 1, 8)},
	}
	for _, tt := range tests {
		if got := MondayOf(tt.in); !got.Equal(tt.want) {
			t.Errorf("MondayOf(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWeeksBetween(t *testing.T) {
	if n := WeeksBetween(date(2024, 1, 1), date(2024, 2, 12)); n != 6 {
		t.Errorf("Expected 6 weeks, got %d", n)
	}
	if n := WeeksBetween(date(2024, 3, 4), date(2024, 3, 4)); n != 0 {
		t.Errorf("Expected 0 weeks, got %d", n)
	}
}

func TestWeekOfYearRoundTrip(t *testing.T) {
	for _, year := range []int{2020, 2021, 2022, 2023, 2024} {
		for w := 1; w <= 52; w++ {
			m, err := MondayOfWeek(year, w)
			if err != nil {
				t.Fatalf("MondayOfWeek(%d, %d): %v", year, w, err)
			}
			if !IsMonday(m) {
				t.Errorf("MondayOfWeek(%d, %d) = %v is not a Monday", year, w, m)
			}
			if got := WeekOfYear(m); got != w {
				t.Errorf("WeekOfYear(%v) = %d, want %d", m, got, w)
			}
		}
	}
}

func TestMondayOfWeek(t *testing.T) {
	m, _ := MondayOfWeek(2024, 1)
	if !m.Equal(date(2024, 1, 1)) {
		t.Errorf("Expected 2024-01-01, got %v", m)
	}
	m, _ = MondayOfWeek(2023, 1)
	if !m.Equal(date(2023, 1, 2)) {
		t.Errorf("Expected 2023-01-02, got %v", m)
	}
	if _, err := MondayOfWeek(2023, 0); err == nil {
		t.Error("Expected error for week 0")
	}
	if _, err := MondayOfWeek(2023, 54); err == nil {
		t.Error("Expected error for week 54")
	}
}

func TestFillGaps(t *testing.T) {
	start := date(2024, 1, 1)

	t.Run("one missing week", func(t *testing.T) {
		points := []ili.SeriesPoint{
			{Date: start, Value: 2},
			{Date: AddWeeks(start, 2), Value: 3},
		}
		filled, gap := FillGaps(points, 2)
		if gap != nil {
			t.Fatalf("Unexpected gap %+v", gap)
		}
		if len(filled) != 3 {
			t.Fatalf("Expected 3 points, got %d", len(filled))
		}
		mid := filled[1]
		if !mid.Date.Equal(AddWeeks(start, 1)) || !mid.Interpolated || math.Abs(mid.Value-2.5) > 1e-12 {
			t.Errorf("Unexpected interpolated point %+v", mid)
		}
	})

	t.Run("gap at threshold", func(t *testing.T) {
		points := []ili.SeriesPoint{
			{Date: start, Value: 1},
			{Date: AddWeeks(start, 3), Value: 4},
		}
		filled, gap := FillGaps(points, 2)
		if gap != nil || len(filled) != 4 {
			t.Fatalf("Expected 4 points without gap, got %d (%+v)", len(filled), gap)
		}
		if filled[2].Value != 3 {
			t.Errorf("Expected 3, got %f", filled[2].Value)
		}
	})

	t.Run("gap too large", func(t *testing.T) {
		points := []ili.SeriesPoint{
			{Date: start, Value: 1},
			{Date: AddWeeks(start, 6), Value: 4},
		}
		_, gap := FillGaps(points, 2)
		if gap == nil {
			t.Fatal("Expected gap")
		}
		if gap.Missing != 5 || !gap.After.Equal(start) {
			t.Errorf("Unexpected gap %+v", gap)
		}
	})

	t.Run("contiguous", func(t *testing.T) {
		points := []ili.SeriesPoint{{Date: start, Value: 1}, {Date: AddWeeks(start, 1), Value: 2}}
		filled, gap := FillGaps(points, 0)
		if gap != nil || len(filled) != 2 || filled[1].Interpolated {
			t.Errorf("Unexpected result %+v %+v", filled, gap)
		}
	})
}
