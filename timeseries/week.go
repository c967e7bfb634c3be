package timeseries

import (
	"fmt"
	"math"
	"time"

	"github.com/anita2210/flu-forecast-hub/ili"
)

const week = 7 * 24 * time.Hour

// MondayOf returns midnight UTC of the Monday starting t's week.
func MondayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// IsMonday reports whether t is a Monday at midnight UTC.
func IsMonday(t time.Time) bool {
	return t.Equal(MondayOf(t))
}

// AddWeeks shifts t by n weeks.
func AddWeeks(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, 7*n)
}

// WeeksBetween returns the number of whole weeks from a to b.
func WeeksBetween(a, b time.Time) int {
	return int(math.Round(float64(b.Sub(a)) / float64(week)))
}

// WeekOfYear returns the Monday-based week number of t: week 1 starts on the
// first Monday of the year and days before it belong to week 0.
func WeekOfYear(t time.Time) int {
	mondayIndex := (int(t.Weekday()) + 6) % 7
	return (t.YearDay() - 1 + 7 - mondayIndex) / 7
}

// MondayOfWeek is the inverse of WeekOfYear for weeks 1 through 53.
func MondayOfWeek(year, weekNum int) (time.Time, error) {
	if weekNum < 1 || weekNum > 53 {
		return time.Time{}, fmt.Errorf("week %d out of range 1..53", weekNum)
	}
	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	toMonday := (7 - (int(jan1.Weekday())+6)%7) % 7
	first := jan1.AddDate(0, 0, toMonday)
	return AddWeeks(first, weekNum-1), nil
}

// Gap describes a run of missing weeks between two observations.
type Gap struct {
	After   time.Time
	Before  time.Time
	Missing int
}

// FillGaps linearly interpolates missing weeks between consecutive points.
// Inserted points are flagged Interpolated. A run longer than maxGap weeks
// is not filled; the first such run is returned instead.
func FillGaps(points []ili.SeriesPoint, maxGap int) ([]ili.SeriesPoint, *Gap) {
	if len(points) < 2 {
		return points, nil
	}

	out := make([]ili.SeriesPoint, 0, len(points))
	out = append(out, points[0])
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		missing := WeeksBetween(prev.Date, cur.Date) - 1
		if missing > maxGap {
			return nil, &Gap{After: prev.Date, Before: cur.Date, Missing: missing}
		}
		step := (cur.Value - prev.Value) / float64(missing+1)
		for k := 1; k <= missing; k++ {
			out = append(out, ili.SeriesPoint{
				Date:         AddWeeks(prev.Date, k),
				Value:        prev.Value + step*float64(k),
				Interpolated: true,
			})
		}
		out = append(out, cur)
	}
	return out, nil
}
