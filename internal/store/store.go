// Package store persists trip exposure records and long-format stat rows.
// Two backends are provided: SQLite for single-machine runs and Postgres for
// shared deployments.
package store

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/exposure-cli/internal/exposure"
)

// ErrNotFound is returned when a trip record does not exist.
var ErrNotFound = eris.New("store: record not found")

// RecordFilter specifies criteria for listing trip records.
type RecordFilter struct {
	Layer  string `json:"layer,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for exposure results.
type Store interface {
	// Trip records
	SaveRecord(ctx context.Context, rec *exposure.TripRecord) error
	GetRecord(ctx context.Context, tripID string) (*exposure.TripRecord, error)
	ListTripIDs(ctx context.Context, filter RecordFilter) ([]string, error)

	// Stats table
	SaveStatRows(ctx context.Context, rows []exposure.StatRow) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open dispatches on the configured driver name.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

// encodeRoute serializes a route polyline as GeoJSON for storage.
func encodeRoute(route *geom.LineString) ([]byte, error) {
	if route == nil {
		return nil, eris.New("store: record has no route")
	}
	data, err := geojson.Marshal(route)
	return data, eris.Wrap(err, "store: encode route")
}

// decodeRoute parses a stored GeoJSON route back into a polyline.
func decodeRoute(data []byte) (*geom.LineString, error) {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "store: decode route")
	}
	ls, ok := g.(*geom.LineString)
	if !ok {
		return nil, eris.Errorf("store: route is %T, want LineString", g)
	}
	return ls, nil
}
