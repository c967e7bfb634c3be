package hub

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anita2210/flu-forecast-hub/forecast"
	"github.com/anita2210/flu-forecast-hub/ili"
	"github.com/anita2210/flu-forecast-hub/summary"
	"github.com/anita2210/flu-forecast-hub/timeseries"
)

// RecordDTO is one week of history.
type RecordDTO struct {
	Date         string  `json:"date"`
	Year         int     `json:"year"`
	Week         int     `json:"week"`
	Month        int     `json:"month"`
	Season       string  `json:"season"`
	Severity     string  `json:"severity"`
	Region       string  `json:"region"`
	ILI          float64 `json:"ili_percentage"`
	Interpolated bool    `json:"interpolated,omitempty"`
}

// RecentDTO is the response of Recent.
type RecentDTO struct {
	Region  string      `json:"region"`
	Total   int         `json:"count"`
	Records []RecordDTO `json:"data"`
}

// ForecastPointDTO is one forecast week.
type ForecastPointDTO struct {
	Date     string  `json:"date"`
	Year     int     `json:"year"`
	Week     int     `json:"week"`
	Forecast float64 `json:"forecast"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
}

// MetricsDTO reports holdout accuracy of the model and its baseline.
type MetricsDTO struct {
	HoldoutWeeks int      `json:"holdout_weeks"`
	MAE          float64  `json:"mae"`
	RMSE         float64  `json:"rmse"`
	MAPE         *float64 `json:"mape"`
	BaselineMAE  float64  `json:"baseline_mae"`
	BaselineRMSE float64  `json:"baseline_rmse"`
}

// ForecastDTO is the response of Forecast.
type ForecastDTO struct {
	Region      string             `json:"region"`
	Model       string             `json:"model"`
	ModelID     string             `json:"model_id"`
	DataVersion uint64             `json:"data_version"`
	Confidence  float64            `json:"confidence"`
	GeneratedAt string             `json:"generated_at"`
	Cached      bool               `json:"cached"`
	Metrics     *MetricsDTO        `json:"metrics,omitempty"`
	Points      []ForecastPointDTO `json:"forecast"`
}

// BucketDTO is one severity band. Nil bounds are unbounded.
type BucketDTO struct {
	Label string   `json:"label"`
	Lower *float64 `json:"lower"`
	Upper *float64 `json:"upper"`
	Count int      `json:"count"`
}

// SummaryDTO is the response of Summary.
type SummaryDTO struct {
	Region       string      `json:"region"`
	Start        string      `json:"start,omitempty"`
	End          string      `json:"end,omitempty"`
	Records      int         `json:"records"`
	Interpolated int         `json:"interpolated"`
	Mean         float64     `json:"mean"`
	Std          float64     `json:"std"`
	Median       float64     `json:"median"`
	Min          float64     `json:"min"`
	Max          float64     `json:"max"`
	PeakWeek     string      `json:"peak_week,omitempty"`
	PeakValue    float64     `json:"peak_value"`
	Severity     []BucketDTO `json:"severity"`
}

// AggregateDTO holds grouped moments.
type AggregateDTO struct {
	Count int     `json:"count"`
	Mean  float64 `json:"avg_ili"`
	Std   float64 `json:"std_ili"`
	Min   float64 `json:"min_ili"`
	Max   float64 `json:"max_ili"`
}

// SeasonalDTO aggregates one flu season of one year.
type SeasonalDTO struct {
	Year   int    `json:"year"`
	Season string `json:"season"`
	AggregateDTO
}

// WeeklyDTO aggregates one week of the year across years.
type WeeklyDTO struct {
	Week  int    `json:"week"`
	Label string `json:"week_label"`
	AggregateDTO
}

// RejectionDTO describes a row refused by the normalizer.
type RejectionDTO struct {
	Index   int    `json:"index"`
	Reason  string `json:"reason"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// IngestReport is the response of Ingest.
type IngestReport struct {
	BatchID    string         `json:"batch_id"`
	Received   int            `json:"received"`
	Accepted   int            `json:"accepted"`
	Rejected   int            `json:"rejected"`
	Version    uint64         `json:"version"`
	Regions    []string       `json:"regions"`
	Rejections []RejectionDTO `json:"rejections,omitempty"`
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func recordDTO(region string, p ili.SeriesPoint, bands summary.Bands) RecordDTO {
	return RecordDTO{
		Date:         formatDate(p.Date),
		Year:         p.Date.Year(),
		Week:         timeseries.WeekOfYear(p.Date),
		Month:        int(p.Date.Month()),
		Season:       string(summary.CalendarSeason(p.Date.Month())),
		Severity:     bands.Severity(p.Value),
		Region:       region,
		ILI:          round2(p.Value),
		Interpolated: p.Interpolated,
	}
}

func forecastDTO(res *forecast.Result, m *MetricsDTO, cached bool) *ForecastDTO {
	dto := &ForecastDTO{
		Region:      res.Region,
		Model:       res.Order.String(),
		ModelID:     res.ModelID.String(),
		DataVersion: res.Version,
		Confidence:  res.Confidence,
		GeneratedAt: res.GeneratedAt.UTC().Format(time.RFC3339),
		Cached:      cached,
		Metrics:     m,
		Points:      make([]ForecastPointDTO, len(res.Points)),
	}
	for i, p := range res.Points {
		dto.Points[i] = ForecastPointDTO{
			Date:     formatDate(p.Date),
			Year:     p.Date.Year(),
			Week:     timeseries.WeekOfYear(p.Date),
			Forecast: round2(p.Point),
			Lower:    round2(p.Lower),
			Upper:    round2(p.Upper),
		}
	}
	return dto
}

func boundPtr(v float64) *float64 {
	if math.IsInf(v, 0) {
		return nil
	}
	r := round2(v)
	return &r
}

func summaryDTO(region string, s summary.Stats) *SummaryDTO {
	dto := &SummaryDTO{
		Region:       region,
		Start:        formatDate(s.Start),
		End:          formatDate(s.End),
		Records:      s.Count,
		Interpolated: s.Interpolated,
		Mean:         round2(s.Mean),
		Std:          round2(s.StdDev),
		Median:       round2(s.Median),
		Min:          round2(s.Min),
		Max:          round2(s.Max),
		PeakWeek:     formatDate(s.PeakWeek),
		PeakValue:    round2(s.PeakValue),
		Severity:     make([]BucketDTO, len(s.Histogram)),
	}
	for i, b := range s.Histogram {
		dto.Severity[i] = BucketDTO{Label: b.Label, Lower: boundPtr(b.Lower), Upper: boundPtr(b.Upper), Count: b.Count}
	}
	return dto
}

func aggregateDTO(a summary.Aggregate) AggregateDTO {
	return AggregateDTO{
		Count: a.Count,
		Mean:  round2(a.Mean),
		Std:   round2(a.StdDev),
		Min:   round2(a.Min),
		Max:   round2(a.Max),
	}
}

// StatusDTO describes the store as a whole.
type StatusDTO struct {
	DataVersion uint64   `json:"data_version"`
	Regions     []string `json:"regions"`
}
