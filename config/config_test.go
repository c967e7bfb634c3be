package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anita2210/flu-forecast-hub/config"
	"github.com/anita2210/flu-forecast-hub/fitter"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "NATIONAL", cfg.Region.Default)
	assert.Equal(t, 2, cfg.Store.MaxGapWeeks)
	assert.Equal(t, 52, cfg.Fitter.MinObservations)
	assert.Equal(t, "aic", cfg.Fitter.Criterion)
	assert.Equal(t, 8, cfg.Forecast.MaxHorizon)
	assert.Equal(t, 8, cfg.Forecast.DefaultHorizon)
	assert.Equal(t, 0.95, cfg.Forecast.Confidence)
	assert.Equal(t, 10*time.Minute, cfg.Forecast.CacheTTL)
	assert.Equal(t, []float64{2, 4, 6}, cfg.Summary.Thresholds)
	assert.Equal(t, []string{"Low", "Moderate", "High", "Very High"}, cfg.Summary.Labels)
	assert.Equal(t, int32(4), cfg.Postgres.MaxConns)
	assert.Equal(t, "fluhub", cfg.Redis.Prefix)

	assert.Equal(t, fitter.DefaultConfig(), cfg.FitterConfig())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "fluhub.yaml", `
server:
  addr: ":9090"
fitter:
  min_observations: 26
  criterion: BIC
forecast:
  max_horizon: 12
  default_horizon: 4
  cache_ttl: 30s
summary:
  thresholds: [1.5, 3]
  labels: [Minimal, Elevated, Severe]
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 26, cfg.Fitter.MinObservations)
	assert.Equal(t, fitter.CriterionBIC, cfg.FitterConfig().Criterion)
	assert.Equal(t, 12, cfg.ForecastConfig().MaxHorizon)
	assert.Equal(t, 30*time.Second, cfg.Forecast.CacheTTL)

	bands, err := cfg.Bands()
	require.NoError(t, err)
	assert.Equal(t, "Severe", bands.Severity(3.2))
	assert.Equal(t, "Minimal", bands.Severity(1.0))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FLUHUB_FORECAST_MAX_HORIZON", "10")
	t.Setenv("FLUHUB_STORE_MAX_GAP_WEEKS", "3")
	t.Setenv("DATABASE_URL", "postgres://localhost/fluhub")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Forecast.MaxHorizon)
	assert.Equal(t, 3, cfg.StoreConfig().MaxGapWeeks)
	assert.Equal(t, "postgres://localhost/fluhub", cfg.Postgres.URL)
}

func TestLoadBandsFile(t *testing.T) {
	bandsPath := writeFile(t, "bands.yaml", "thresholds: [3]\nlabels: [Normal, Alert]\n")
	path := writeFile(t, "fluhub.yaml", "summary:\n  bands_file: "+bandsPath+"\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	bands, err := cfg.Bands()
	require.NoError(t, err)
	assert.Equal(t, "Alert", bands.Severity(3))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]string{
		"confidence":      "forecast:\n  confidence: 1.5\n",
		"default horizon": "forecast:\n  default_horizon: 9\n",
		"criterion":       "fitter:\n  criterion: hqic\n",
		"min obs":         "fitter:\n  min_observations: 0\n",
		"max d":           "fitter:\n  max_d: 3\n",
		"thresholds":      "summary:\n  thresholds: [4, 2]\n  labels: [A, B, C]\n",
		"labels":          "summary:\n  labels: [A, B]\n",
		"gap":             "store:\n  max_gap_weeks: -1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, "fluhub.yaml", body))
			assert.Error(t, err)
		})
	}
}
