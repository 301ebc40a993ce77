package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/exposure-cli/internal/exposure"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS trip_records (
	trip_id      TEXT PRIMARY KEY,
	route        TEXT NOT NULL,
	record       TEXT NOT NULL,
	generated_at DATETIME NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS stat_rows (
	id         TEXT PRIMARY KEY,
	trip_id    TEXT NOT NULL,
	layer      TEXT NOT NULL,
	stat       TEXT NOT NULL,
	value      REAL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_stat_rows_trip_id ON stat_rows(trip_id);
CREATE INDEX IF NOT EXISTS idx_stat_rows_layer ON stat_rows(layer);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec *exposure.TripRecord) error {
	routeJSON, err := encodeRoute(rec.Route)
	if err != nil {
		return err
	}
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trip_records (trip_id, route, record, generated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (trip_id) DO UPDATE SET route = ?2, record = ?3, generated_at = ?4`,
		rec.TripID, string(routeJSON), string(recordJSON), rec.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save record %s", rec.TripID)
}

func (s *SQLiteStore) GetRecord(ctx context.Context, tripID string) (*exposure.TripRecord, error) {
	var routeJSON, recordJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT route, record FROM trip_records WHERE trip_id = ?`,
		tripID,
	).Scan(&routeJSON, &recordJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "trip %s", tripID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", tripID)
	}

	var rec exposure.TripRecord
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal record")
	}
	rec.Route, err = decodeRoute([]byte(routeJSON))
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) ListTripIDs(ctx context.Context, filter RecordFilter) ([]string, error) {
	query := `SELECT trip_id FROM trip_records WHERE 1=1`
	var args []any

	if filter.Layer != "" {
		query += ` AND EXISTS (SELECT 1 FROM stat_rows WHERE stat_rows.trip_id = trip_records.trip_id AND stat_rows.layer = ?)`
		args = append(args, filter.Layer)
	}
	query += ` ORDER BY generated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list trips")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trip id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list trips iterate")
}

func (s *SQLiteStore) SaveStatRows(ctx context.Context, statRows []exposure.StatRow) (int64, error) {
	if len(statRows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin stat rows")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO stat_rows (id, trip_id, layer, stat, value, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare stat rows")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, row := range statRows {
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), row.TripID, row.Layer, string(row.Stat), row.Value, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert stat row %s/%s", row.TripID, row.Layer)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit stat rows")
	}
	return int64(len(statRows)), nil
}
