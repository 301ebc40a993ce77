package exposure

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/exposure-cli/internal/geometry"
)

// ErrInvalidInterval is returned for a non-positive sampling interval.
var ErrInvalidInterval = eris.New("exposure: sampling interval must be > 0")

// distanceEpsilon absorbs floating error when a route length is an exact
// multiple of the interval.
const distanceEpsilon = 1e-9

// Discretize converts a route into sample points at fixed arc-length spacing:
// 0, interval, 2*interval, ... up to the largest multiple of interval that
// does not exceed the route length. When the length is not an exact multiple,
// the route's final vertex is deliberately not appended; the tail shorter
// than one interval goes unsampled. An interval longer than the route yields
// the single point at distance 0.
func Discretize(route *geom.LineString, intervalM float64) ([]SamplePoint, error) {
	if intervalM <= 0 {
		return nil, ErrInvalidInterval
	}

	length := geometry.LineLengthM(route)

	steps := 0
	if length > 0 {
		steps = int((length + distanceEpsilon) / intervalM)
	}

	points := make([]SamplePoint, 0, steps+1)
	for i := 0; i <= steps; i++ {
		d := float64(i) * intervalM
		points = append(points, SamplePoint{
			Location:  geometry.PointAtDistance(route, d),
			DistanceM: d,
		})
	}
	return points, nil
}
