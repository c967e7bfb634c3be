package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anita2210/flu-forecast-hub/export"
	"github.com/anita2210/flu-forecast-hub/hub"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "REDIS_URL", "FLUHUB_POSTGRES_URL", "FLUHUB_REDIS_ADDR", "FLUHUB_REDIS_URL"} {
		t.Setenv(k, "")
	}
}

func TestForecastCommand(t *testing.T) {
	isolateEnv(t)
	var out bytes.Buffer
	err := run(context.Background(), []string{"fluhub", "--log-format", "json", "--log-level", "warn", "forecast", "--sample", "--horizon", "4"}, &out)
	require.NoError(t, err)

	var res hub.ForecastDTO
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "NATIONAL", res.Region)
	assert.Len(t, res.Points, 4)
	assert.Equal(t, "2026-01-05", res.Points[0].Date)
	require.NotNil(t, res.Metrics)
	assert.Equal(t, 12, res.Metrics.HoldoutWeeks)
	for _, p := range res.Points {
		assert.LessOrEqual(t, p.Lower, p.Forecast)
		assert.LessOrEqual(t, p.Forecast, p.Upper)
		assert.GreaterOrEqual(t, p.Lower, 0.0)
	}
}

func TestExportCommand(t *testing.T) {
	isolateEnv(t)
	csvPath := filepath.Join(t.TempDir(), "ili.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("week_start;ili_percentage\n2024-01-01;2.0\n2024-01-08;2.5\n"), 0o600))

	dir := filepath.Join(t.TempDir(), "out")
	err := run(context.Background(), []string{"fluhub", "--log-format", "json", "export", "--file", csvPath, "--delimiter", ";", "--dir", dir}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, export.HistoricalFile))
	assert.FileExists(t, filepath.Join(dir, export.SeasonalFile))
	assert.FileExists(t, filepath.Join(dir, export.WeeklyFile))
	// two weeks cannot be fitted
	assert.NoFileExists(t, filepath.Join(dir, export.ForecastFile))
}

func TestIngestCommandNeedsSource(t *testing.T) {
	isolateEnv(t)
	err := run(context.Background(), []string{"fluhub", "ingest"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "nothing to ingest")
}

func TestInvalidLogFormat(t *testing.T) {
	isolateEnv(t)
	err := run(context.Background(), []string{"fluhub", "--log-format", "xml", "ingest", "--sample"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestSourceFlagsDelimiter(t *testing.T) {
	s := sourceFlags{file: "x.csv", delimiter: "::"}
	_, err := s.rows()
	assert.ErrorContains(t, err, "single character")
}
