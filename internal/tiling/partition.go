// Package tiling splits large study areas into tractable grid cells and
// evaluates raster layers over them within the remote service's resource
// limits, subdividing or coarsening when a cell blows the pixel budget.
package tiling

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/exposure-cli/internal/geometry"
)

// ErrInvalidCellSize is returned for a non-positive grid cell size.
var ErrInvalidCellSize = eris.New("tiling: cell size must be > 0")

// ErrEmptyGeometry is returned when the study polygon has no area.
var ErrEmptyGeometry = eris.New("tiling: polygon has zero area")

// Cell is one tile of a partitioned polygon: the candidate rectangle's grid
// indices plus the clipped geometry actually inside the study area.
type Cell struct {
	GridX    int           `json:"grid_x"`
	GridY    int           `json:"grid_y"`
	Geometry *geom.Polygon `json:"-"`
	AreaM2   float64       `json:"area_m2"`
}

// Partition covers a polygon's bounding box with a grid of cellSizeDeg-sided
// squares anchored at the box's min corner, clips each candidate square to
// the polygon, and keeps the cells with non-zero intersection area. Retained
// cells jointly cover the polygon and do not overlap in interior.
func Partition(poly *geom.Polygon, cellSizeDeg float64) ([]Cell, error) {
	if cellSizeDeg <= 0 {
		return nil, ErrInvalidCellSize
	}
	if geometry.PolygonAreaM2(poly) <= 0 {
		return nil, ErrEmptyGeometry
	}

	bb := geometry.Bounds(poly)
	xSteps := int(math.Ceil(bb.Width() / cellSizeDeg))
	ySteps := int(math.Ceil(bb.Height() / cellSizeDeg))

	var cells []Cell
	for x := 0; x < xSteps; x++ {
		for y := 0; y < ySteps; y++ {
			minX := bb.MinX + float64(x)*cellSizeDeg
			minY := bb.MinY + float64(y)*cellSizeDeg

			clipped := geometry.ClipToRect(poly, minX, minY, minX+cellSizeDeg, minY+cellSizeDeg)
			if clipped == nil {
				continue
			}
			area := geometry.PolygonAreaM2(clipped)
			if area <= 0 {
				continue
			}
			cells = append(cells, Cell{
				GridX:    x,
				GridY:    y,
				Geometry: clipped,
				AreaM2:   area,
			})
		}
	}
	return cells, nil
}
