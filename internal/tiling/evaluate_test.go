package tiling

import (
	"context"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/exposure-cli/internal/geometry"
	"github.com/sells-group/exposure-cli/internal/raster"
)

// budgetEvaluator rejects any region wider than maxAreaM2 with a pixel
// budget error and returns a fixed value otherwise.
type budgetEvaluator struct {
	mu        sync.Mutex
	maxAreaM2 float64
	calls     int
	err       error
}

func (b *budgetEvaluator) EvaluateRegionMean(_ context.Context, _ raster.Layer, region *geom.Polygon, _ float64) (raster.Value, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	if b.err != nil {
		return raster.NoData(), b.err
	}
	if b.maxAreaM2 > 0 && geometry.PolygonAreaM2(region) > b.maxAreaM2 {
		return raster.NoData(), raster.ErrPixelBudgetExceeded
	}
	return raster.Some(42), nil
}

var evalLayer = raster.Layer{Name: "NDVI", ID: "cat/ndvi"}

func TestEvaluateRegion_AllCellsFit(t *testing.T) {
	ev := &budgetEvaluator{}
	poly := polyRect(0, 0, 0.2, 0.2)

	res, err := EvaluateRegion(context.Background(), ev, evalLayer, poly, EvaluateConfig{CellSizeDeg: 0.1})
	require.NoError(t, err)
	require.Len(t, res.Values, 4)
	assert.Empty(t, res.Failures)

	for _, cv := range res.Values {
		assert.True(t, cv.Value.Valid)
		assert.Equal(t, 42.0, cv.Value.Float64)
		assert.GreaterOrEqual(t, cv.ScaleM, MinScaleM)
	}
}

func TestEvaluateRegion_DeterministicOrder(t *testing.T) {
	ev := &budgetEvaluator{}
	poly := polyRect(0, 0, 0.3, 0.3)

	res, err := EvaluateRegion(context.Background(), ev, evalLayer, poly, EvaluateConfig{
		CellSizeDeg:    0.1,
		MaxConcurrency: 4,
	})
	require.NoError(t, err)
	require.Len(t, res.Values, 9)

	for i := 1; i < len(res.Values); i++ {
		a, b := res.Values[i-1].Cell, res.Values[i].Cell
		less := a.GridX < b.GridX || (a.GridX == b.GridX && a.GridY <= b.GridY)
		assert.True(t, less, "values out of (GridX, GridY) order at %d", i)
	}
}

func TestEvaluateRegion_SubdividesOverBudget(t *testing.T) {
	// Cells of 0.1 degree (~123 km^2 at the equator) exceed the budget;
	// quarter cells fit.
	cellArea := geometry.PolygonAreaM2(polyRect(0, 0, 0.1, 0.1))
	ev := &budgetEvaluator{maxAreaM2: cellArea / 2}
	poly := polyRect(0, 0, 0.1, 0.1)

	res, err := EvaluateRegion(context.Background(), ev, evalLayer, poly, EvaluateConfig{
		CellSizeDeg:     0.1,
		MaxSubdivisions: 2,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	require.Len(t, res.Values, 4, "one blown cell becomes four quarter cells")

	// Sub-cells keep the parent's grid indices and jointly cover its area.
	var sum float64
	for _, cv := range res.Values {
		assert.Equal(t, 0, cv.Cell.GridX)
		assert.Equal(t, 0, cv.Cell.GridY)
		sum += cv.Cell.AreaM2
	}
	assert.InDelta(t, cellArea, sum, cellArea*0.001)
}

func TestEvaluateRegion_FailuresIsolated(t *testing.T) {
	ev := &budgetEvaluator{err: eris.New("layer offline")}
	poly := polyRect(0, 0, 0.2, 0.2)

	res, err := EvaluateRegion(context.Background(), ev, evalLayer, poly, EvaluateConfig{CellSizeDeg: 0.1})
	require.NoError(t, err, "cell failures must not abort the region")
	assert.Empty(t, res.Values)
	assert.Len(t, res.Failures, 4)
	for _, f := range res.Failures {
		assert.Contains(t, f.Reason, "layer offline")
	}
}

func TestEvaluateRegion_BudgetExhaustedReportsFailure(t *testing.T) {
	// Nothing ever fits, even fully subdivided and coarsened.
	ev := &budgetEvaluator{maxAreaM2: 1}
	poly := polyRect(0, 0, 0.1, 0.1)

	res, err := EvaluateRegion(context.Background(), ev, evalLayer, poly, EvaluateConfig{
		CellSizeDeg:     0.1,
		MaxSubdivisions: 1,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Values)
	assert.NotEmpty(t, res.Failures)
}

func TestEvaluateRegion_InvalidInputs(t *testing.T) {
	ev := &budgetEvaluator{}

	_, err := EvaluateRegion(context.Background(), ev, evalLayer, polyRect(0, 0, 1, 1), EvaluateConfig{CellSizeDeg: 0})
	assert.ErrorIs(t, err, ErrInvalidCellSize)

	flat := []float64{0, 0, 1, 0, 2, 0, 0, 0}
	degenerate := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
	_, err = EvaluateRegion(context.Background(), ev, evalLayer, degenerate, EvaluateConfig{CellSizeDeg: 0.1})
	assert.ErrorIs(t, err, ErrEmptyGeometry)
}

func TestEvaluateRegion_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := &budgetEvaluator{}
	_, err := EvaluateRegion(ctx, ev, evalLayer, polyRect(0, 0, 0.2, 0.2), EvaluateConfig{CellSizeDeg: 0.1})
	require.Error(t, err)
}
