package tiling

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/exposure-cli/internal/geometry"
)

// Scale clamp bounds in meters per pixel. 30m matches the finest layers in
// typical catalogs; 500m keeps continent-scale queries inside any sane pixel
// budget.
const (
	MinScaleM = 30.0
	MaxScaleM = 500.0
)

// SelectScale derives a sampling resolution from a region's area so that the
// pixel volume of a single remote query stays roughly constant as regions
// grow: sqrt(area)/1000 clamped to [MinScaleM, MaxScaleM]. Monotonic
// non-decreasing in area.
func SelectScale(areaM2 float64) float64 {
	scale := math.Sqrt(areaM2) / 1000
	if scale < MinScaleM {
		return MinScaleM
	}
	if scale > MaxScaleM {
		return MaxScaleM
	}
	return scale
}

// SelectScaleFor computes the adaptive scale for a polygon.
func SelectScaleFor(poly *geom.Polygon) float64 {
	return SelectScale(geometry.PolygonAreaM2(poly))
}
