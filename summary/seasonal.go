package summary

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/anita2210/flu-forecast-hub/ili"
	"github.com/anita2210/flu-forecast-hub/timeseries"
)

// Season is a part of the surveillance year.
type Season string

const (
	Winter Season = "Winter"
	Spring Season = "Spring"
	Summer Season = "Summer"
	Fall   Season = "Fall"
)

var seasonRank = map[Season]int{Winter: 0, Spring: 1, Summer: 2, Fall: 3}

// FluSeason maps a week of the year onto the flu calendar: weeks up to 10
// and from 48 are the winter flu season.
func FluSeason(week int) Season {
	switch {
	case week <= 10 || week >= 48:
		return Winter
	case week <= 22:
		return Spring
	case week <= 35:
		return Summer
	default:
		return Fall
	}
}

// CalendarSeason maps a month onto meteorological seasons.
func CalendarSeason(m time.Month) Season {
	switch m {
	case time.December, time.January, time.February:
		return Winter
	case time.March, time.April, time.May:
		return Spring
	case time.June, time.July, time.August:
		return Summer
	default:
		return Fall
	}
}

// Aggregate holds moments of a group of values. StdDev is the sample
// standard deviation, 0 for single values.
type Aggregate struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

func aggregate(values []float64) Aggregate {
	a := Aggregate{Count: len(values), Min: values[0], Max: values[0]}
	for _, v := range values[1:] {
		a.Min = min(a.Min, v)
		a.Max = max(a.Max, v)
	}
	a.Mean = stat.Mean(values, nil)
	if len(values) > 1 {
		a.StdDev = stat.StdDev(values, nil)
	}
	return a
}

// SeasonalSummary aggregates one flu season of one year.
type SeasonalSummary struct {
	Year   int
	Season Season
	Aggregate
}

// BySeason groups points by calendar year and flu season, ordered by year
// then season.
func BySeason(points []ili.SeriesPoint) []SeasonalSummary {
	type key struct {
		year   int
		season Season
	}
	groups := make(map[key][]float64)
	for _, p := range points {
		k := key{year: p.Date.Year(), season: FluSeason(timeseries.WeekOfYear(p.Date))}
		groups[k] = append(groups[k], p.Value)
	}

	out := make([]SeasonalSummary, 0, len(groups))
	for k, values := range groups {
		out = append(out, SeasonalSummary{Year: k.year, Season: k.season, Aggregate: aggregate(values)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return seasonRank[out[i].Season] < seasonRank[out[j].Season]
	})
	return out
}

// WeeklyAverage aggregates one week of the year across all years.
type WeeklyAverage struct {
	Week int
	Aggregate
}

// ByWeekOfYear groups points by week of the year, ordered by week.
func ByWeekOfYear(points []ili.SeriesPoint) []WeeklyAverage {
	groups := make(map[int][]float64)
	for _, p := range points {
		w := timeseries.WeekOfYear(p.Date)
		groups[w] = append(groups[w], p.Value)
	}

	out := make([]WeeklyAverage, 0, len(groups))
	for w, values := range groups {
		out = append(out, WeeklyAverage{Week: w, Aggregate: aggregate(values)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Week < out[j].Week })
	return out
}
