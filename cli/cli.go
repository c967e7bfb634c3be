// Package cli implements the fluhub command line.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/anita2210/flu-forecast-hub/config"
	"github.com/anita2210/flu-forecast-hub/logging"
)

// globals are the root flags and the configuration they produce.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func (g *globals) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to a YAML config file (default ./config.yaml if present)",
			Sources:     cli.EnvVars("FLUHUB_CONFIG"),
			Destination: &g.configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Category:    "Logging",
			Value:       "info",
			Sources:     cli.EnvVars("FLUHUB_LOG_LEVEL"),
			Destination: &g.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json, auto)",
			Category:    "Logging",
			Value:       "auto",
			Sources:     cli.EnvVars("FLUHUB_LOG_FORMAT"),
			Destination: &g.logFormat,
		},
	}
}

func (g *globals) before(ctx context.Context, _ *cli.Command) (context.Context, error) {
	if !logging.ValidLevel(g.logLevel) {
		return nil, goerr.New("invalid log level", goerr.V("level", g.logLevel))
	}
	format, err := logging.ParseFormat(g.logFormat)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLoggerWithFormat(logging.ParseLogLevel(g.logLevel), os.Stderr, format)
	slog.SetDefault(logger)
	ctx = ctxlog.With(ctx, logger)

	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	g.cfg = cfg
	logger.Debug("configuration loaded", slog.Any("config", cfg))
	return ctx, nil
}

// Run runs the CLI with args, writing command output to stdout.
func Run(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdout)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	g := &globals{}
	app := &cli.Command{
		Name:   "fluhub",
		Usage:  "Influenza-like illness surveillance and forecasting",
		Flags:  g.flags(),
		Before: g.before,
		Writer: stdout,
		Commands: []*cli.Command{
			cmdServe(g),
			cmdIngest(g),
			cmdForecast(g, stdout),
			cmdExport(g),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		return goerr.Wrap(err, "fluhub failed")
	}
	return nil
}
