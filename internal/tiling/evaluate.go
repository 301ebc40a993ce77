package tiling

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/exposure-cli/internal/raster"
)

// CellValue is the evaluated areal mean for one grid cell.
type CellValue struct {
	Cell   Cell         `json:"cell"`
	ScaleM float64      `json:"scale_m"`
	Value  raster.Value `json:"-"`
}

// CellFailure records a cell that could not be evaluated even after
// subdivision and coarsening.
type CellFailure struct {
	Cell   Cell   `json:"cell"`
	Reason string `json:"reason"`
}

// RegionResult is the outcome of evaluating a layer over a partitioned
// region. Failures are reported alongside the completed values; a partial
// result is still a result.
type RegionResult struct {
	Values   []CellValue   `json:"values"`
	Failures []CellFailure `json:"failures,omitempty"`
}

// EvaluateConfig tunes region evaluation.
type EvaluateConfig struct {
	// CellSizeDeg is the grid cell side in degrees.
	CellSizeDeg float64

	// MaxConcurrency caps in-flight cell evaluations. Default 8.
	MaxConcurrency int

	// MaxSubdivisions bounds how many times a budget-blown cell may be split
	// 2x2 before falling back to the coarsest scale. Default 3.
	MaxSubdivisions int
}

func (c EvaluateConfig) withDefaults() EvaluateConfig {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.MaxSubdivisions <= 0 {
		c.MaxSubdivisions = 3
	}
	return c
}

// EvaluateRegion partitions a polygon and evaluates the layer's areal mean
// over every cell at that cell's adaptive scale. Cells run concurrently under
// cfg.MaxConcurrency. A cell that exceeds the service's pixel budget is
// re-partitioned at half the cell size and its sub-cells evaluated in its
// place, up to cfg.MaxSubdivisions deep, then retried once at MaxScaleM
// before being reported as failed. Output is ordered by (GridX, GridY).
func EvaluateRegion(ctx context.Context, ev raster.Evaluator, layer raster.Layer, poly *geom.Polygon, cfg EvaluateConfig) (*RegionResult, error) {
	cfg = cfg.withDefaults()

	cells, err := Partition(poly, cfg.CellSizeDeg)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "tiling.evaluate"),
		zap.String("layer", layer.Name),
	)
	log.Info("region partitioned",
		zap.Int("cells", len(cells)),
		zap.Float64("cell_size_deg", cfg.CellSizeDeg),
	)

	var (
		mu     sync.Mutex
		result RegionResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)

	for _, cell := range cells {
		g.Go(func() error {
			values, failures := evaluateCell(gctx, ev, layer, cell, cfg.CellSizeDeg, 0, cfg.MaxSubdivisions)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			result.Values = append(result.Values, values...)
			result.Failures = append(result.Failures, failures...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "tiling: evaluate region for %s", layer.Name)
	}

	sortCellValues(result.Values)
	return &result, nil
}

// evaluateCell evaluates one cell, recursing into a finer partition when the
// pixel budget is exceeded. Sub-cells keep the parent's grid indices so
// callers can attribute every value to its original tile.
func evaluateCell(ctx context.Context, ev raster.Evaluator, layer raster.Layer, cell Cell, cellSizeDeg float64, depth, maxDepth int) ([]CellValue, []CellFailure) {
	scale := SelectScaleFor(cell.Geometry)

	v, err := ev.EvaluateRegionMean(ctx, layer, cell.Geometry, scale)
	if err == nil {
		return []CellValue{{Cell: cell, ScaleM: scale, Value: v}}, nil
	}
	if ctx.Err() != nil {
		return nil, nil
	}
	if !eris.Is(err, raster.ErrPixelBudgetExceeded) {
		return nil, []CellFailure{{Cell: cell, Reason: err.Error()}}
	}

	// Budget blown: split the cell and evaluate the pieces.
	if depth < maxDepth {
		subSize := cellSizeDeg / 2
		subCells, perr := Partition(cell.Geometry, subSize)
		if perr == nil && len(subCells) > 1 {
			zap.L().Debug("subdividing cell over pixel budget",
				zap.String("layer", layer.Name),
				zap.Int("grid_x", cell.GridX),
				zap.Int("grid_y", cell.GridY),
				zap.Int("depth", depth+1),
			)
			var values []CellValue
			var failures []CellFailure
			for _, sub := range subCells {
				sub.GridX = cell.GridX
				sub.GridY = cell.GridY
				v, f := evaluateCell(ctx, ev, layer, sub, subSize, depth+1, maxDepth)
				values = append(values, v...)
				failures = append(failures, f...)
			}
			return values, failures
		}
	}

	// Can't subdivide further; last resort is the coarsest allowed scale.
	if scale < MaxScaleM {
		v, err = ev.EvaluateRegionMean(ctx, layer, cell.Geometry, MaxScaleM)
		if err == nil {
			return []CellValue{{Cell: cell, ScaleM: MaxScaleM, Value: v}}, nil
		}
	}
	return nil, []CellFailure{{Cell: cell, Reason: err.Error()}}
}

// sortCellValues restores deterministic (GridX, GridY, area) order after
// parallel evaluation.
func sortCellValues(values []CellValue) {
	sort.Slice(values, func(i, j int) bool {
		a, b := values[i].Cell, values[j].Cell
		if a.GridX != b.GridX {
			return a.GridX < b.GridX
		}
		if a.GridY != b.GridY {
			return a.GridY < b.GridY
		}
		return a.AreaM2 > b.AreaM2
	})
}
