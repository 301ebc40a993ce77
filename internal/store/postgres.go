package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/db"
	"github.com/sells-group/exposure-cli/internal/exposure"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"save_record": `INSERT INTO trip_records (trip_id, route, record, generated_at) VALUES ($1, $2, $3, $4)
	 ON CONFLICT (trip_id) DO UPDATE SET route = $2, record = $3, generated_at = $4`,
	"get_record": `SELECT route, record FROM trip_records WHERE trip_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems
// that need direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS trip_records (
	trip_id      TEXT PRIMARY KEY,
	route        JSONB NOT NULL,
	record       JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stat_rows (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	trip_id    TEXT NOT NULL,
	layer      TEXT NOT NULL,
	stat       TEXT NOT NULL,
	value      DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_stat_rows_trip_id ON stat_rows(trip_id);
CREATE INDEX IF NOT EXISTS idx_stat_rows_layer ON stat_rows(layer);
CREATE INDEX IF NOT EXISTS idx_trip_records_generated_at ON trip_records(generated_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec *exposure.TripRecord) error {
	routeJSON, err := encodeRoute(rec.Route)
	if err != nil {
		return err
	}
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO trip_records (trip_id, route, record, generated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (trip_id) DO UPDATE SET route = $2, record = $3, generated_at = $4`,
		rec.TripID, routeJSON, recordJSON, rec.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save record %s", rec.TripID)
}

func (s *PostgresStore) GetRecord(ctx context.Context, tripID string) (*exposure.TripRecord, error) {
	var routeJSON, recordJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT route, record FROM trip_records WHERE trip_id = $1`,
		tripID,
	).Scan(&routeJSON, &recordJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "trip %s", tripID)
		}
		return nil, eris.Wrapf(err, "postgres: get record %s", tripID)
	}

	var rec exposure.TripRecord
	if err := json.Unmarshal(recordJSON, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal record")
	}
	rec.Route, err = decodeRoute(routeJSON)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) ListTripIDs(ctx context.Context, filter RecordFilter) ([]string, error) {
	query := `SELECT trip_id FROM trip_records WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Layer != "" {
		query += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM stat_rows WHERE stat_rows.trip_id = trip_records.trip_id AND stat_rows.layer = $%d)`, argIdx)
		args = append(args, filter.Layer)
		argIdx++
	}
	query += ` ORDER BY generated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list trips")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trip id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list trips iterate")
}

// SaveStatRows bulk-loads summary statistics via COPY.
func (s *PostgresStore) SaveStatRows(ctx context.Context, statRows []exposure.StatRow) (int64, error) {
	if len(statRows) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(statRows))
	for _, row := range statRows {
		rows = append(rows, []any{
			uuid.New().String(), row.TripID, row.Layer, string(row.Stat), row.Value, now,
		})
	}

	return db.CopyFrom(ctx, s.pool, "stat_rows",
		[]string{"id", "trip_id", "layer", "stat", "value", "created_at"}, rows)
}
