package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"

	"github.com/anita2210/flu-forecast-hub/ili"
)

// DB is the subset of pgxpool.Pool used by PostgresPersister.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS ili_observations (
	region      TEXT             NOT NULL,
	week_start  DATE             NOT NULL,
	ili         DOUBLE PRECISION NOT NULL CHECK (ili >= 0 AND ili <= 100),
	ingested_at TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (region, week_start)
)`

const loadSQL = `SELECT region, week_start, ili, ingested_at
FROM ili_observations
ORDER BY region, week_start`

// The WHERE clause repeats the latest-ingest-wins rule so concurrent writers
// converge.
const upsertSQL = `INSERT INTO ili_observations (region, week_start, ili, ingested_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (region, week_start) DO UPDATE
SET ili = EXCLUDED.ili, ingested_at = EXCLUDED.ingested_at
WHERE EXCLUDED.ingested_at > ili_observations.ingested_at
   OR (EXCLUDED.ingested_at = ili_observations.ingested_at AND EXCLUDED.ili > ili_observations.ili)`

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	URL      string
	MaxConns int32
}

// PostgresPersister stores observations in the ili_observations table.
type PostgresPersister struct {
	db   DB
	pool *pgxpool.Pool
}

// NewPostgresPersister wraps an existing pool or mock.
func NewPostgresPersister(db DB) *PostgresPersister {
	return &PostgresPersister{db: db}
}

// OpenPostgres connects a pool, creates the schema if needed and returns the
// persister. Close releases the pool.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresPersister, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse postgres url")
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "failed to connect to postgres")
	}

	p := &PostgresPersister{db: pool, pool: pool}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close closes the pool opened by OpenPostgres.
func (p *PostgresPersister) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

// EnsureSchema creates the observations table when missing.
func (p *PostgresPersister) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return goerr.Wrap(err, "failed to create ili_observations")
	}
	return nil
}

// Load reads every stored observation.
func (p *PostgresPersister) Load(ctx context.Context) ([]ili.ObservationRecord, error) {
	rows, err := p.db.Query(ctx, loadSQL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query observations")
	}
	defer rows.Close()

	var out []ili.ObservationRecord
	for rows.Next() {
		var (
			rec        ili.ObservationRecord
			weekStart  time.Time
			ingestedAt time.Time
		)
		if err := rows.Scan(&rec.Region, &weekStart, &rec.ILI, &ingestedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan observation")
		}
		y, m, d := weekStart.Date()
		rec.WeekStart = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		rec.IngestedAt = ingestedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read observations")
	}
	return out, nil
}

// Save upserts records in one transaction.
func (p *PostgresPersister) Save(ctx context.Context, records []ili.ObservationRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	for _, r := range records {
		if _, err := tx.Exec(ctx, upsertSQL, r.Region, r.WeekStart, r.ILI, r.IngestedAt); err != nil {
			_ = tx.Rollback(ctx)
			return goerr.Wrap(err, "failed to upsert observation",
				goerr.V("region", r.Region),
				goerr.V("week_start", r.WeekStart.Format(time.DateOnly)))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return goerr.Wrap(err, "failed to commit observations", goerr.V("records", len(records)))
	}
	return nil
}
