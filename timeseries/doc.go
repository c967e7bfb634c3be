// Package timeseries provides the weekly Series type and its calendar.
//
// All dates are Mondays at midnight UTC. Observations that arrive with
// another weekday are moved to the Monday of their week by MondayOf.
//
// # Creating a Series
//
//	series := timeseries.FromPoints("NATIONAL", points)
//	diffed := series.Diff()
//
// # Calendar
//
// Week numbers follow the Monday-based convention used by the CDC export
// files: week 1 begins on the first Monday of the year.
//
//	monday, err := timeseries.MondayOfWeek(2024, 5)
//	next := timeseries.AddWeeks(monday, 1)
//
// # Gaps
//
// FillGaps linearly interpolates short runs of missing weeks and reports the
// first run that exceeds the allowed length:
//
//	filled, gap := timeseries.FillGaps(points, 2)
//	if gap != nil {
//	    // gap.Missing weeks between gap.After and gap.Before
//	}
package timeseries
