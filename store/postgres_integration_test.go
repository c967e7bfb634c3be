//go:build integration_pg
// +build integration_pg

package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/anita2210/flu-forecast-hub/ili"
	"github.com/anita2210/flu-forecast-hub/store"
)

func startPostgres(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "fluhub",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections"),
		).WithDeadline(2 * time.Minute),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://postgres:postgres@%s:%s/fluhub?sslmode=disable", host, mapped.Port())
}

func TestPostgresRoundTrip_Integration(t *testing.T) {
	dsn := startPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var p *store.PostgresPersister
	var err error
	// the log line can precede the final server restart during init
	for i := 0; i < 10; i++ {
		p, err = store.OpenPostgres(ctx, store.PostgresConfig{URL: dsn, MaxConns: 2})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err)
	defer p.Close()

	s, err := store.Open(ctx, store.DefaultConfig(), p)
	require.NoError(t, err)

	_, err = s.Upsert(ctx, weekly("NATIONAL", "2024-01-01", 2.0, 2.5, 3.0))
	require.NoError(t, err)
	// older delivery rejected by the table guard as well
	_, err = s.Upsert(ctx, []ili.ObservationRecord{rec("NATIONAL", "2024-01-01", 9.0, -1)})
	require.NoError(t, err)
	require.NoError(t, p.Save(ctx, []ili.ObservationRecord{rec("NATIONAL", "2024-01-08", 9.0, -1)}))

	reopened, err := store.Open(ctx, store.DefaultConfig(), p)
	require.NoError(t, err)

	points, err := reopened.LatestN("NATIONAL", 3)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, []float64{2.0, 2.5, 3.0}, []float64{points[0].Value, points[1].Value, points[2].Value})

	d1, _ := s.Digest("NATIONAL")
	d2, _ := reopened.Digest("NATIONAL")
	assert.Equal(t, d1, d2)
}
