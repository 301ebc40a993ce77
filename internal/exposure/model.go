// Package exposure implements the route-exposure pipeline: a trip's polyline
// is discretized into evenly spaced sample points, each point is buffered and
// queried against named raster layers, and the per-point samples are reduced
// into per-layer summary statistics.
package exposure

import (
	"time"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/exposure-cli/internal/raster"
)

// Trip is a route with an identifier.
type Trip struct {
	ID    string
	Route *geom.LineString
}

// SamplePoint is one location along a route, tagged with its arc-length
// distance from the route start in meters.
type SamplePoint struct {
	Location  geom.Coord `json:"location"`
	DistanceM float64    `json:"distance_m"`
}

// LayerSample is the raster value observed at one sample point for one layer.
type LayerSample struct {
	Point SamplePoint  `json:"point"`
	Layer string       `json:"layer"`
	Value raster.Value `json:"-"`
}

// SampleFailure records a point whose raster query failed after retries.
// Failures are isolated: they reduce the sample count but never abort the
// trip or substitute a numeric value.
type SampleFailure struct {
	PointIndex int     `json:"point_index"`
	DistanceM  float64 `json:"distance_m"`
	Reason     string  `json:"reason"`
}

// Summary holds the aggregate exposure statistics for one layer along one
// trip. Mean/Min/Max are nil when no valid samples were observed; nil is the
// NoData encoding and is distinct from a valid zero.
type Summary struct {
	Layer       string   `json:"layer"`
	Mean        *float64 `json:"mean"`
	Min         *float64 `json:"min"`
	Max         *float64 `json:"max"`
	SampleCount int      `json:"sample_count"`
	FailedCount int      `json:"failed_count"`
}

// TripRecord is the merged exposure result for one trip across all requested
// layers. LayerKeys preserves the caller's layer order; ByLayer is keyed by
// sanitized layer name.
type TripRecord struct {
	TripID      string             `json:"trip_id"`
	Route       *geom.LineString   `json:"-"`
	Points      []SamplePoint      `json:"points"`
	LayerKeys   []string           `json:"layer_keys"`
	ByLayer     map[string]Summary `json:"by_layer"`
	Failures    []SampleFailure    `json:"failures,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// StatKind identifies one summary statistic in the long-format stats table.
type StatKind string

const (
	StatMin  StatKind = "min"
	StatMean StatKind = "mean"
	StatMax  StatKind = "max"
)

// StatRow is one row of the long-format (trip, layer, stat, value) table.
// Value is nil for NoData.
type StatRow struct {
	TripID string   `json:"trip_id"`
	Layer  string   `json:"layer"`
	Stat   StatKind `json:"stat"`
	Value  *float64 `json:"value"`
}
