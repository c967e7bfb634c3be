// Package export writes the dashboard CSV files from hub query results.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/anita2210/flu-forecast-hub/hub"
	"github.com/anita2210/flu-forecast-hub/ili"
)

const (
	HistoricalFile = "historical.csv"
	ForecastFile   = "forecast.csv"
	SeasonalFile   = "seasonal_summary.csv"
	WeeklyFile     = "weekly_averages.csv"
)

// Source is the subset of the hub the exporter reads.
type Source interface {
	History(ctx context.Context, region string) ([]hub.RecordDTO, error)
	Forecast(ctx context.Context, region string, horizon int) (*hub.ForecastDTO, error)
	Seasonal(ctx context.Context, region string) ([]hub.SeasonalDTO, error)
	WeeklyAverages(ctx context.Context, region string) ([]hub.WeeklyDTO, error)
}

// Options selects what to export.
type Options struct {
	Dir     string
	Region  string
	Horizon int // 0 uses the hub default
}

// Result lists the files written.
type Result struct {
	Files []string
	// ForecastSkipped is set when no model could be fitted.
	ForecastSkipped bool
}

// Write exports region into opts.Dir, creating it if needed. A region too
// short to fit is exported without forecast.csv.
func Write(ctx context.Context, src Source, opts Options) (*Result, error) {
	logger := ctxlog.From(ctx)
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create export directory", goerr.V("dir", opts.Dir))
	}

	history, err := src.History(ctx, opts.Region)
	if err != nil {
		return nil, err
	}
	seasonal, err := src.Seasonal(ctx, opts.Region)
	if err != nil {
		return nil, err
	}
	weekly, err := src.WeeklyAverages(ctx, opts.Region)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	fc, err := src.Forecast(ctx, opts.Region, opts.Horizon)
	var fitErr *ili.FitError
	switch {
	case errors.As(err, &fitErr):
		logger.Warn("forecast skipped", slog.String("region", opts.Region), slog.Any("error", err))
		res.ForecastSkipped = true
	case err != nil:
		return nil, err
	}

	files := []exportFile{
		{HistoricalFile, func(w io.Writer) error { return WriteHistorical(w, history) }},
		{SeasonalFile, func(w io.Writer) error { return WriteSeasonal(w, seasonal) }},
		{WeeklyFile, func(w io.Writer) error { return WriteWeekly(w, weekly) }},
	}
	if fc != nil {
		files = append(files, exportFile{ForecastFile, func(w io.Writer) error { return WriteForecast(w, fc) }})
	}

	for _, f := range files {
		path := filepath.Join(opts.Dir, f.name)
		if err := writeFile(path, f.write); err != nil {
			return nil, err
		}
		res.Files = append(res.Files, path)
	}

	logger.Info("export completed",
		slog.String("dir", opts.Dir),
		slog.Int("records", len(history)),
		slog.Int("files", len(res.Files)),
	)
	return res, nil
}

type exportFile struct {
	name  string
	write func(io.Writer) error
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return goerr.Wrap(err, "failed to create export file", goerr.V("path", path))
	}
	if err := write(f); err != nil {
		f.Close()
		return goerr.Wrap(err, "failed to write export file", goerr.V("path", path))
	}
	if err := f.Close(); err != nil {
		return goerr.Wrap(err, "failed to close export file", goerr.V("path", path))
	}
	return nil
}

func writeAll(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// WriteHistorical writes one row per week with calendar columns.
func WriteHistorical(w io.Writer, records []hub.RecordDTO) error {
	header := []string{"date", "year", "week", "month", "month_name", "quarter", "day_of_year", "season", "severity", "region", "ili_percentage", "interpolated"}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		d, err := time.Parse(time.DateOnly, r.Date)
		if err != nil {
			return goerr.Wrap(err, "invalid record date", goerr.V("date", r.Date))
		}
		rows = append(rows, []string{
			r.Date,
			strconv.Itoa(r.Year),
			strconv.Itoa(r.Week),
			strconv.Itoa(r.Month),
			d.Month().String(),
			strconv.Itoa((r.Month-1)/3 + 1),
			strconv.Itoa(d.YearDay()),
			r.Season,
			r.Severity,
			r.Region,
			ftoa(r.ILI),
			strconv.FormatBool(r.Interpolated),
		})
	}
	return writeAll(w, header, rows)
}

// WriteForecast writes one row per forecast week.
func WriteForecast(w io.Writer, f *hub.ForecastDTO) error {
	header := []string{"year", "week", "date", "ili_percentage", "type", "confidence_low", "confidence_high", "model"}
	rows := make([][]string, 0, len(f.Points))
	for _, p := range f.Points {
		rows = append(rows, []string{
			strconv.Itoa(p.Year),
			strconv.Itoa(p.Week),
			p.Date,
			ftoa(p.Forecast),
			"Forecast",
			ftoa(p.Lower),
			ftoa(p.Upper),
			f.Model,
		})
	}
	return writeAll(w, header, rows)
}

// WriteSeasonal writes one row per year and season.
func WriteSeasonal(w io.Writer, seasons []hub.SeasonalDTO) error {
	header := []string{"year", "season", "avg_ili", "max_ili", "min_ili", "std_ili", "weeks"}
	rows := make([][]string, 0, len(seasons))
	for _, s := range seasons {
		rows = append(rows, []string{
			strconv.Itoa(s.Year),
			s.Season,
			ftoa(s.Mean),
			ftoa(s.Max),
			ftoa(s.Min),
			ftoa(s.Std),
			strconv.Itoa(s.Count),
		})
	}
	return writeAll(w, header, rows)
}

// WriteWeekly writes one row per week of the year.
func WriteWeekly(w io.Writer, weeks []hub.WeeklyDTO) error {
	header := []string{"week", "avg_ili", "std_ili", "min_ili", "max_ili", "week_label"}
	rows := make([][]string, 0, len(weeks))
	for _, wk := range weeks {
		rows = append(rows, []string{
			strconv.Itoa(wk.Week),
			ftoa(wk.Mean),
			ftoa(wk.Std),
			ftoa(wk.Min),
			ftoa(wk.Max),
			wk.Label,
		})
	}
	return writeAll(w, header, rows)
}
