// Package ili defines the surveillance records and error kinds shared by the
// ingest, storage and forecasting packages.
package ili

import "time"

// RawRow is one untyped row as delivered by a surveillance feed or CSV file.
type RawRow map[string]any

// ObservationRecord is a validated weekly ILI observation.
// There is at most one record per (Region, WeekStart).
type ObservationRecord struct {
	WeekStart  time.Time // Monday, midnight UTC
	ILI        float64   // percentage of visits, in [0, 100]
	Region     string    // canonical region code
	IngestedAt time.Time
}

// Key identifies the series slot a record occupies.
func (r ObservationRecord) Key() Key {
	return Key{Region: r.Region, WeekStart: r.WeekStart}
}

// Supersedes reports whether r replaces existing under latest-ingest-wins.
// Equal ingest times fall back to the larger value so that merges do not
// depend on delivery order.
func (r ObservationRecord) Supersedes(existing ObservationRecord) bool {
	switch {
	case r.IngestedAt.After(existing.IngestedAt):
		return true
	case r.IngestedAt.Equal(existing.IngestedAt):
		return r.ILI > existing.ILI
	default:
		return false
	}
}

// Key is the (region, week) identity of a record.
type Key struct {
	Region    string
	WeekStart time.Time
}

// SeriesPoint is one week of a regional series.
type SeriesPoint struct {
	Date         time.Time
	Value        float64
	Interpolated bool // filled by the store's gap policy
}
