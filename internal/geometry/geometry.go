// Package geometry provides planar and geodesic helpers over go-geom types:
// bounding boxes, areas in square meters, polyline lengths, arc-length cuts,
// point buffers, and rectangle clipping for grid partitioning.
package geometry

import (
	"math"

	"github.com/twpayne/go-geom"
)

// earthRadiusM is the mean Earth radius in meters (IUGG).
const earthRadiusM = 6371008.8

// metersPerDegreeLat is the length of one degree of latitude in meters.
const metersPerDegreeLat = earthRadiusM * math.Pi / 180.0

// BBox is an axis-aligned bounding box in lon/lat degrees.
type BBox struct {
	MinX float64 `json:"min_lng"`
	MinY float64 `json:"min_lat"`
	MaxX float64 `json:"max_lng"`
	MaxY float64 `json:"max_lat"`
}

// Width returns the longitudinal extent in degrees.
func (b BBox) Width() float64 { return b.MaxX - b.MinX }

// Height returns the latitudinal extent in degrees.
func (b BBox) Height() float64 { return b.MaxY - b.MinY }

// Bounds computes the bounding box of any go-geom geometry.
func Bounds(g geom.T) BBox {
	b := g.Bounds()
	return BBox{
		MinX: b.Min(0),
		MinY: b.Min(1),
		MaxX: b.Max(0),
		MaxY: b.Max(1),
	}
}

// metersPerDegree returns the local meters-per-degree factors for longitude
// and latitude at the given latitude.
func metersPerDegree(lat float64) (mx, my float64) {
	my = metersPerDegreeLat
	mx = my * math.Cos(lat*math.Pi/180.0)
	return mx, my
}

// Haversine returns the great-circle distance in meters between two lon/lat points.
func Haversine(lng1, lat1, lng2, lat2 float64) float64 {
	const degToRad = math.Pi / 180.0
	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lng2 - lng1) * degToRad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// PolygonAreaM2 returns the planar area of a polygon in square meters.
// Vertices are projected onto a local equirectangular plane centered on the
// polygon's bounding box, then the shoelace formula is applied to the outer
// ring minus any interior rings. Accurate for regions up to a few degrees
// across, which covers grid cells and metro-scale study areas.
func PolygonAreaM2(p *geom.Polygon) float64 {
	if p == nil || p.NumLinearRings() == 0 {
		return 0
	}
	bb := Bounds(p)
	midLat := (bb.MinY + bb.MaxY) / 2
	mx, my := metersPerDegree(midLat)

	area := ringAreaM2(p.LinearRing(0).FlatCoords(), p.Stride(), mx, my)
	for i := 1; i < p.NumLinearRings(); i++ {
		area -= ringAreaM2(p.LinearRing(i).FlatCoords(), p.Stride(), mx, my)
	}
	if area < 0 {
		area = -area
	}
	return area
}

// ringAreaM2 applies the shoelace formula to a flat coordinate ring projected
// with the given meters-per-degree factors. The result is signed.
func ringAreaM2(flat []float64, stride int, mx, my float64) float64 {
	n := len(flat) / stride
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		x1 := flat[i*stride] * mx
		y1 := flat[i*stride+1] * my
		x2 := flat[j*stride] * mx
		y2 := flat[j*stride+1] * my
		sum += x1*y2 - x2*y1
	}
	return sum / 2
}

// LineLengthM returns the length of a polyline in meters, summing the
// haversine distance of each segment.
func LineLengthM(l *geom.LineString) float64 {
	flat := l.FlatCoords()
	stride := l.Stride()
	n := len(flat) / stride

	var total float64
	for i := 1; i < n; i++ {
		total += Haversine(
			flat[(i-1)*stride], flat[(i-1)*stride+1],
			flat[i*stride], flat[i*stride+1],
		)
	}
	return total
}

// PointAtDistance returns the point at arc length d meters along the line.
// d is clamped to [0, length]: negative distances return the first vertex and
// distances beyond the line's length return the last vertex.
func PointAtDistance(l *geom.LineString, d float64) geom.Coord {
	flat := l.FlatCoords()
	stride := l.Stride()
	n := len(flat) / stride

	if n == 0 {
		return geom.Coord{0, 0}
	}
	if d <= 0 || n == 1 {
		return geom.Coord{flat[0], flat[1]}
	}

	remaining := d
	for i := 1; i < n; i++ {
		x1, y1 := flat[(i-1)*stride], flat[(i-1)*stride+1]
		x2, y2 := flat[i*stride], flat[i*stride+1]
		seg := Haversine(x1, y1, x2, y2)
		if seg <= 0 {
			continue
		}
		if remaining <= seg {
			t := remaining / seg
			return geom.Coord{x1 + (x2-x1)*t, y1 + (y2-y1)*t}
		}
		remaining -= seg
	}
	return geom.Coord{flat[(n-1)*stride], flat[(n-1)*stride+1]}
}

// Circle builds a polygonal approximation of a circle with the given radius
// in meters around a lon/lat center. segments controls the vertex count; 32
// is plenty for areal-mean raster queries.
func Circle(center geom.Coord, radiusM float64, segments int) *geom.Polygon {
	if segments < 4 {
		segments = 4
	}
	mx, my := metersPerDegree(center[1])

	flat := make([]float64, 0, (segments+1)*2)
	for i := 0; i <= segments; i++ {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		flat = append(flat,
			center[0]+radiusM*math.Cos(theta)/mx,
			center[1]+radiusM*math.Sin(theta)/my,
		)
	}
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326)
}

// Rect builds an axis-aligned rectangle polygon from bounding coordinates.
func Rect(minX, minY, maxX, maxY float64) *geom.Polygon {
	flat := []float64{
		minX, minY,
		maxX, minY,
		maxX, maxY,
		minX, maxY,
		minX, minY,
	}
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326)
}
