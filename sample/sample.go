// Package sample generates a deterministic synthetic national ILI feed with
// a winter peak and a summer trough, in the shape of CDC ILINet rows.
package sample

import (
	"math/rand/v2"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/anita2210/flu-forecast-hub/ili"
)

// Config controls the generated range.
type Config struct {
	StartYear int
	EndYear   int // inclusive
	Weeks     int // weeks per year, numbered from 1
	Region    string
	Seed      uint64
}

// DefaultConfig covers 2020 through 2025 with seed 42.
func DefaultConfig() Config {
	return Config{StartYear: 2020, EndYear: 2025, Weeks: 52, Region: "National", Seed: 42}
}

// level is the ILI range of a week of the year.
func level(week int) (lo, hi float64) {
	switch {
	case week <= 10 || week >= 48:
		return 3.5, 7.5
	case week >= 20 && week <= 35:
		return 0.8, 2.0
	default:
		return 1.5, 4.0
	}
}

// Rows generates one raw row per year and week. The same config always
// yields the same rows.
func Rows(cfg Config) []ili.RawRow {
	if cfg.Weeks <= 0 {
		cfg.Weeks = 52
	}
	if cfg.Region == "" {
		cfg.Region = "National"
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	rng := rand.New(src)

	rows := make([]ili.RawRow, 0, max(0, cfg.EndYear-cfg.StartYear+1)*cfg.Weeks)
	for year := cfg.StartYear; year <= cfg.EndYear; year++ {
		for week := 1; week <= cfg.Weeks; week++ {
			lo, hi := level(week)
			u := distuv.Uniform{Min: lo, Max: hi, Src: src}
			base := u.Rand()

			sign := 1.0
			if rng.IntN(2) == 0 {
				sign = -1
			}
			yearFactor := 1 + float64(year-cfg.StartYear)*0.05*sign
			value := decimal.NewFromFloat(base * yearFactor).Round(2)

			rows = append(rows, ili.RawRow{
				"year":           year,
				"week":           week,
				"region":         cfg.Region,
				"ili_percentage": value.InexactFloat64(),
				"num_providers":  2000 + rng.IntN(1500),
				"total_patients": 50000 + rng.IntN(70000),
				"total_ili":      1000 + rng.IntN(7000),
			})
		}
	}
	return rows
}
