package exposure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/exposure-cli/internal/geometry"
)

// lineOfLengthM builds a straight northbound line of approximately the given
// length in meters, starting at (-97.7, 30.0).
func lineOfLengthM(meters float64) *geom.LineString {
	const startLng, startLat = -97.7, 30.0
	dLat := meters / 111194.93 // meters per degree latitude
	return geom.NewLineStringFlat(geom.XY, []float64{
		startLng, startLat,
		startLng, startLat + dLat,
	})
}

func distances(points []SamplePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.DistanceM
	}
	return out
}

func TestDiscretize_ExactMultiple(t *testing.T) {
	route := lineOfLengthM(3000)
	// Nudge interval tests away from float noise by measuring the real length.
	length := geometry.LineLengthM(route)
	require.InDelta(t, 3000, length, 1)

	points, err := Discretize(route, length/3)
	require.NoError(t, err)
	require.Len(t, points, 4)
	assert.InDeltaSlice(t, []float64{0, length / 3, 2 * length / 3, length}, distances(points), 1e-6)
}

func TestDiscretize_RemainderNotAppended(t *testing.T) {
	route := lineOfLengthM(3500)

	points, err := Discretize(route, 1000)
	require.NoError(t, err)
	require.Len(t, points, 4, "the 3500m vertex is not sampled")
	assert.InDeltaSlice(t, []float64{0, 1000, 2000, 3000}, distances(points), 1e-6)
}

func TestDiscretize_IntervalLongerThanRoute(t *testing.T) {
	route := lineOfLengthM(500)

	points, err := Discretize(route, 1000)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 0.0, points[0].DistanceM)
	assert.InDelta(t, -97.7, points[0].Location[0], 1e-9)
	assert.InDelta(t, 30.0, points[0].Location[1], 1e-9)
}

func TestDiscretize_InvalidInterval(t *testing.T) {
	route := lineOfLengthM(1000)

	for _, interval := range []float64{0, -1, -1000} {
		_, err := Discretize(route, interval)
		assert.ErrorIs(t, err, ErrInvalidInterval)
	}
}

func TestDiscretize_StrictlyIncreasing(t *testing.T) {
	route := lineOfLengthM(5280)

	points, err := Discretize(route, 250)
	require.NoError(t, err)
	require.NotEmpty(t, points)

	assert.Equal(t, 0.0, points[0].DistanceM)
	for i := 1; i < len(points); i++ {
		assert.Greater(t, points[i].DistanceM, points[i-1].DistanceM)
	}
}

func TestDiscretize_PointsLieOnRoute(t *testing.T) {
	// L-shaped route; every sample must sit on one of the two legs.
	route := geom.NewLineStringFlat(geom.XY, []float64{0, 0, 0.01, 0, 0.01, 0.01})

	points, err := Discretize(route, 200)
	require.NoError(t, err)
	require.Greater(t, len(points), 2)

	for _, p := range points {
		onFirstLeg := p.Location[1] == 0 && p.Location[0] >= 0 && p.Location[0] <= 0.01
		onSecondLeg := p.Location[0] == 0.01 && p.Location[1] >= 0 && p.Location[1] <= 0.01
		assert.True(t, onFirstLeg || onSecondLeg, "point %v off route", p.Location)
	}
}
