// Package config loads fluhub configuration from a YAML file and FLUHUB_*
// environment variables.
package config

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/viper"

	"github.com/anita2210/flu-forecast-hub/fitter"
	"github.com/anita2210/flu-forecast-hub/forecast"
	"github.com/anita2210/flu-forecast-hub/store"
	"github.com/anita2210/flu-forecast-hub/summary"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLUHUB"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Region   RegionConfig   `mapstructure:"region"`
	Store    StoreConfig    `mapstructure:"store"`
	Fitter   FitterConfig   `mapstructure:"fitter"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Summary  SummaryConfig  `mapstructure:"summary"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type RegionConfig struct {
	Default string `mapstructure:"default"`
}

type StoreConfig struct {
	MaxGapWeeks int `mapstructure:"max_gap_weeks"`
}

type FitterConfig struct {
	MinObservations    int    `mapstructure:"min_observations"`
	MaxP               int    `mapstructure:"max_p"`
	MaxD               int    `mapstructure:"max_d"`
	MaxQ               int    `mapstructure:"max_q"`
	Criterion          string `mapstructure:"criterion"`
	Lookback           int    `mapstructure:"lookback"`
	StaleAfterVersions uint64 `mapstructure:"stale_after_versions"`
	BacktestWeeks      int    `mapstructure:"backtest_weeks"`
	BaselineWindow     int    `mapstructure:"baseline_window"`
}

type ForecastConfig struct {
	MaxHorizon     int           `mapstructure:"max_horizon"`
	DefaultHorizon int           `mapstructure:"default_horizon"`
	Confidence     float64       `mapstructure:"confidence"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

type SummaryConfig struct {
	Thresholds []float64 `mapstructure:"thresholds"`
	Labels     []string  `mapstructure:"labels"`
	BandsFile  string    `mapstructure:"bands_file"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Load reads path, or config.yaml in the working directory when path is
// empty. A missing default file is not an error; a missing explicit one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("postgres.url", EnvPrefix+"_POSTGRES_URL", "DATABASE_URL"); err != nil {
		return nil, goerr.Wrap(err, "failed to bind DATABASE_URL")
	}
	if err := v.BindEnv("redis.url", EnvPrefix+"_REDIS_URL", "REDIS_URL"); err != nil {
		return nil, goerr.Wrap(err, "failed to bind REDIS_URL")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, goerr.Wrap(err, "failed to read config", goerr.V("path", path))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("region.default", "NATIONAL")

	v.SetDefault("store.max_gap_weeks", store.DefaultMaxGapWeeks)

	fd := fitter.DefaultConfig()
	v.SetDefault("fitter.min_observations", fd.MinObservations)
	v.SetDefault("fitter.max_p", fd.MaxP)
	v.SetDefault("fitter.max_d", fd.MaxD)
	v.SetDefault("fitter.max_q", fd.MaxQ)
	v.SetDefault("fitter.criterion", string(fd.Criterion))
	v.SetDefault("fitter.lookback", fd.Lookback)
	v.SetDefault("fitter.stale_after_versions", 0)
	v.SetDefault("fitter.backtest_weeks", fd.BacktestWeeks)
	v.SetDefault("fitter.baseline_window", fd.BaselineWindow)

	v.SetDefault("forecast.max_horizon", forecast.DefaultMaxHorizon)
	v.SetDefault("forecast.default_horizon", forecast.DefaultMaxHorizon)
	v.SetDefault("forecast.confidence", forecast.DefaultConfidence)
	v.SetDefault("forecast.cache_ttl", forecast.DefaultCacheTTL.String())

	bands := summary.DefaultBands()
	v.SetDefault("summary.thresholds", bands.Thresholds)
	v.SetDefault("summary.labels", bands.Labels)
	v.SetDefault("summary.bands_file", "")

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.max_conns", 4)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "fluhub")
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	invalid := func(key string, value any) error {
		return goerr.New("invalid configuration", goerr.V("key", key), goerr.V("value", value))
	}

	switch {
	case c.Server.Addr == "":
		return invalid("server.addr", c.Server.Addr)
	case c.Server.ReadTimeout < 0:
		return invalid("server.read_timeout", c.Server.ReadTimeout)
	case strings.TrimSpace(c.Region.Default) == "":
		return invalid("region.default", c.Region.Default)
	case c.Store.MaxGapWeeks < 0:
		return invalid("store.max_gap_weeks", c.Store.MaxGapWeeks)
	case c.Fitter.MinObservations < 1:
		return invalid("fitter.min_observations", c.Fitter.MinObservations)
	case c.Fitter.MaxP < 0 || c.Fitter.MaxP > 5:
		return invalid("fitter.max_p", c.Fitter.MaxP)
	case c.Fitter.MaxD < 0 || c.Fitter.MaxD > 2:
		return invalid("fitter.max_d", c.Fitter.MaxD)
	case c.Fitter.MaxQ < 0 || c.Fitter.MaxQ > 5:
		return invalid("fitter.max_q", c.Fitter.MaxQ)
	case c.Fitter.Lookback < 0:
		return invalid("fitter.lookback", c.Fitter.Lookback)
	case c.Fitter.BacktestWeeks < 0:
		return invalid("fitter.backtest_weeks", c.Fitter.BacktestWeeks)
	case c.Fitter.BaselineWindow < 1:
		return invalid("fitter.baseline_window", c.Fitter.BaselineWindow)
	case c.Forecast.MaxHorizon < 1:
		return invalid("forecast.max_horizon", c.Forecast.MaxHorizon)
	case c.Forecast.DefaultHorizon < 1 || c.Forecast.DefaultHorizon > c.Forecast.MaxHorizon:
		return invalid("forecast.default_horizon", c.Forecast.DefaultHorizon)
	case !(c.Forecast.Confidence > 0 && c.Forecast.Confidence < 1):
		return invalid("forecast.confidence", c.Forecast.Confidence)
	case c.Forecast.CacheTTL < 0:
		return invalid("forecast.cache_ttl", c.Forecast.CacheTTL)
	case c.Postgres.MaxConns < 0:
		return invalid("postgres.max_conns", c.Postgres.MaxConns)
	case c.Redis.DB < 0:
		return invalid("redis.db", c.Redis.DB)
	}

	if _, err := fitter.ParseCriterion(c.Fitter.Criterion); err != nil {
		return goerr.Wrap(err, "invalid configuration", goerr.V("key", "fitter.criterion"))
	}
	if c.Summary.BandsFile == "" {
		if err := c.inlineBands().Validate(); err != nil {
			return goerr.Wrap(err, "invalid configuration", goerr.V("key", "summary.thresholds"))
		}
	}
	return nil
}

func (c *Config) inlineBands() summary.Bands {
	return summary.Bands{Thresholds: c.Summary.Thresholds, Labels: c.Summary.Labels}
}

// StoreConfig returns the series store configuration.
func (c *Config) StoreConfig() store.Config {
	return store.Config{MaxGapWeeks: c.Store.MaxGapWeeks}
}

// FitterConfig returns the model fitter configuration.
func (c *Config) FitterConfig() fitter.Config {
	criterion, _ := fitter.ParseCriterion(c.Fitter.Criterion)
	return fitter.Config{
		MaxP:            c.Fitter.MaxP,
		MaxD:            c.Fitter.MaxD,
		MaxQ:            c.Fitter.MaxQ,
		Criterion:       criterion,
		MinObservations: c.Fitter.MinObservations,
		Lookback:        c.Fitter.Lookback,
		BacktestWeeks:   c.Fitter.BacktestWeeks,
		BaselineWindow:  c.Fitter.BaselineWindow,
	}
}

// ForecastConfig returns the forecast generator configuration.
func (c *Config) ForecastConfig() forecast.Config {
	return forecast.Config{
		MaxHorizon:         c.Forecast.MaxHorizon,
		Confidence:         c.Forecast.Confidence,
		StaleAfterVersions: c.Fitter.StaleAfterVersions,
	}
}

// Bands returns the severity bands, read from summary.bands_file when set.
func (c *Config) Bands() (summary.Bands, error) {
	if c.Summary.BandsFile != "" {
		return summary.LoadBands(c.Summary.BandsFile)
	}
	return c.inlineBands(), nil
}

// LogValue hides credentials.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Server.Addr),
		slog.String("default_region", c.Region.Default),
		slog.Int("max_gap_weeks", c.Store.MaxGapWeeks),
		slog.Int("min_observations", c.Fitter.MinObservations),
		slog.String("criterion", c.Fitter.Criterion),
		slog.Int("max_horizon", c.Forecast.MaxHorizon),
		slog.Float64("confidence", c.Forecast.Confidence),
		slog.Bool("postgres", c.Postgres.URL != ""),
		slog.Bool("redis", c.Redis.Addr != "" || c.Redis.URL != ""),
	)
}
