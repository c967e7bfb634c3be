package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/anita2210/flu-forecast-hub/export"
)

func cmdIngest(g *globals) *cli.Command {
	var src sourceFlags

	return &cli.Command{
		Name:  "ingest",
		Usage: "Normalize and store observations from a CSV file or the sample series",
		Flags: src.flags(),
		Action: func(ctx context.Context, _ *cli.Command) error {
			if src.empty() {
				return goerr.New("nothing to ingest: pass --file or --sample")
			}
			a, err := openApp(ctx, g.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := src.load(ctx, a.hub)
			if err != nil {
				return err
			}
			ctxlog.From(ctx).Info("ingest report",
				slog.String("batch_id", report.BatchID),
				slog.Int("received", report.Received),
				slog.Int("accepted", report.Accepted),
				slog.Int("rejected", report.Rejected),
				slog.Uint64("version", report.Version),
				slog.Any("regions", report.Regions),
			)
			return nil
		},
	}
}

func cmdForecast(g *globals, stdout io.Writer) *cli.Command {
	var (
		region  string
		horizon int
		src     sourceFlags
	)

	return &cli.Command{
		Name:  "forecast",
		Usage: "Print a forecast as JSON",
		Flags: joinFlags(
			[]cli.Flag{
				&cli.StringFlag{
					Name:        "region",
					Aliases:     []string{"r"},
					Usage:       "Region code (default region.default)",
					Destination: &region,
				},
				&cli.IntFlag{
					Name:        "horizon",
					Aliases:     []string{"weeks"},
					Usage:       "Weeks ahead (default forecast.default_horizon)",
					Destination: &horizon,
				},
			},
			src.flags(),
		),
		Action: func(ctx context.Context, _ *cli.Command) error {
			a, err := openApp(ctx, g.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := src.load(ctx, a.hub); err != nil {
				return err
			}
			res, err := a.hub.Forecast(ctx, region, horizon)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return goerr.Wrap(err, "failed to write forecast")
			}
			return nil
		},
	}
}

func cmdExport(g *globals) *cli.Command {
	var (
		dir     string
		region  string
		horizon int
		src     sourceFlags
	)

	return &cli.Command{
		Name:  "export",
		Usage: "Write dashboard CSV files",
		Flags: joinFlags(
			[]cli.Flag{
				&cli.StringFlag{
					Name:        "dir",
					Aliases:     []string{"o"},
					Usage:       "Output directory",
					Value:       "dashboard_data",
					Destination: &dir,
				},
				&cli.StringFlag{
					Name:        "region",
					Aliases:     []string{"r"},
					Usage:       "Region code (default region.default)",
					Destination: &region,
				},
				&cli.IntFlag{
					Name:        "horizon",
					Usage:       "Forecast weeks (default forecast.default_horizon)",
					Destination: &horizon,
				},
			},
			src.flags(),
		),
		Action: func(ctx context.Context, _ *cli.Command) error {
			a, err := openApp(ctx, g.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := src.load(ctx, a.hub); err != nil {
				return err
			}
			_, err = export.Write(ctx, a.hub, export.Options{Dir: dir, Region: region, Horizon: horizon})
			return err
		},
	}
}
