package cli

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/anita2210/flu-forecast-hub/config"
	"github.com/anita2210/flu-forecast-hub/fitter"
	"github.com/anita2210/flu-forecast-hub/forecast"
	"github.com/anita2210/flu-forecast-hub/hub"
	"github.com/anita2210/flu-forecast-hub/ili"
	"github.com/anita2210/flu-forecast-hub/normalize"
	"github.com/anita2210/flu-forecast-hub/sample"
	"github.com/anita2210/flu-forecast-hub/store"
)

// app is the wired forecasting core.
type app struct {
	store   *store.Store
	hub     *hub.Service
	closers []func()
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := ctxlog.From(ctx)
	a := &app{}

	bands, err := cfg.Bands()
	if err != nil {
		return nil, err
	}

	if cfg.Postgres.URL != "" {
		pg, err := store.OpenPostgres(ctx, store.PostgresConfig{URL: cfg.Postgres.URL, MaxConns: cfg.Postgres.MaxConns})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if a.store, err = store.Open(ctx, cfg.StoreConfig(), pg); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logger.Info("no postgres configured, observations are kept in memory")
		a.store = store.New(cfg.StoreConfig())
	}

	var cache forecast.Cache
	client, err := newRedisClient(ctx, cfg.Redis)
	switch {
	case err != nil:
		a.Close()
		return nil, err
	case client != nil:
		a.closers = append(a.closers, func() { _ = client.Close() })
		cache = forecast.NewRedisCache(client, cfg.Redis.Prefix, cfg.Forecast.CacheTTL)
	default:
		cache = forecast.NewMemoryCache(cfg.Forecast.CacheTTL)
	}

	models := fitter.NewCache(fitter.New(cfg.FitterConfig()), a.store, cfg.Fitter.StaleAfterVersions)
	a.hub = hub.New(hub.Deps{
		Store:      a.store,
		Normalizer: normalize.New(normalize.WithDefaultRegion(cfg.Region.Default)),
		Models:     models,
		Generator:  forecast.NewGenerator(cfg.ForecastConfig(), a.store),
		Forecasts:  cache,
		Bands:      bands,
	}, hub.Config{
		DefaultRegion:  cfg.Region.Default,
		DefaultHorizon: cfg.Forecast.DefaultHorizon,
	})
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newRedisClient returns nil when no Redis is configured.
func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid redis url")
		}
		opts = parsed
	case cfg.Addr != "":
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, nil
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", opts.Addr))
	}
	ctxlog.From(ctx).Info("connected to redis", slog.String("addr", opts.Addr), slog.Int("db", opts.DB))
	return client, nil
}

// sourceFlags select rows to ingest before a command runs.
type sourceFlags struct {
	file      string
	useSample bool
	skipRows  int
	delimiter string
}

func (s *sourceFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "file",
			Aliases:     []string{"f"},
			Usage:       "CSV file of weekly observations",
			Category:    "Input",
			Destination: &s.file,
		},
		&cli.BoolFlag{
			Name:        "sample",
			Usage:       "Ingest the built-in synthetic national series",
			Category:    "Input",
			Destination: &s.useSample,
		},
		&cli.IntFlag{
			Name:        "skip-rows",
			Usage:       "Lines before the CSV header (1 for CDC ILINet downloads)",
			Category:    "Input",
			Destination: &s.skipRows,
		},
		&cli.StringFlag{
			Name:        "delimiter",
			Usage:       "CSV field delimiter",
			Category:    "Input",
			Value:       ",",
			Destination: &s.delimiter,
		},
	}
}

func (s *sourceFlags) empty() bool {
	return s.file == "" && !s.useSample
}

func (s *sourceFlags) rows() ([]ili.RawRow, error) {
	var rows []ili.RawRow
	if s.file != "" {
		delim, size := utf8.DecodeRuneInString(s.delimiter)
		if size == 0 || size != len(s.delimiter) {
			return nil, goerr.New("delimiter must be a single character", goerr.V("delimiter", s.delimiter))
		}
		fileRows, err := normalize.ReadCSVFile(s.file, &normalize.CSVOptions{Delimiter: delim, SkipRows: s.skipRows})
		if err != nil {
			return nil, err
		}
		rows = append(rows, fileRows...)
	}
	if s.useSample {
		rows = append(rows, sample.Rows(sample.DefaultConfig())...)
	}
	return rows, nil
}

// load ingests the selected rows, if any.
func (s *sourceFlags) load(ctx context.Context, svc *hub.Service) (*hub.IngestReport, error) {
	if s.empty() {
		return nil, nil
	}
	rows, err := s.rows()
	if err != nil {
		return nil, err
	}
	return svc.Ingest(ctx, rows)
}
