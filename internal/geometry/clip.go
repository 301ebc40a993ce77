package geometry

import "github.com/twpayne/go-geom"

// ClipToRect clips a polygon's outer ring to an axis-aligned rectangle using
// Sutherland-Hodgman. Grid cells are always axis-aligned, so the general
// polygon-polygon intersection problem never arises here. Interior rings are
// dropped; study-area polygons are rings without holes.
// Returns nil when the intersection is empty.
func ClipToRect(p *geom.Polygon, minX, minY, maxX, maxY float64) *geom.Polygon {
	if p == nil || p.NumLinearRings() == 0 {
		return nil
	}

	ring := coordsFromFlat(p.LinearRing(0).FlatCoords(), p.Stride())
	if len(ring) >= 2 && ring[0].Equal(geom.XY, ring[len(ring)-1]) {
		ring = ring[:len(ring)-1] // open the ring for clipping
	}
	if len(ring) < 3 {
		return nil
	}

	// Clip against each rectangle edge in turn.
	ring = clipEdge(ring, func(c geom.Coord) bool { return c[0] >= minX }, func(a, b geom.Coord) geom.Coord {
		t := (minX - a[0]) / (b[0] - a[0])
		return geom.Coord{minX, a[1] + (b[1]-a[1])*t}
	})
	ring = clipEdge(ring, func(c geom.Coord) bool { return c[0] <= maxX }, func(a, b geom.Coord) geom.Coord {
		t := (maxX - a[0]) / (b[0] - a[0])
		return geom.Coord{maxX, a[1] + (b[1]-a[1])*t}
	})
	ring = clipEdge(ring, func(c geom.Coord) bool { return c[1] >= minY }, func(a, b geom.Coord) geom.Coord {
		t := (minY - a[1]) / (b[1] - a[1])
		return geom.Coord{a[0] + (b[0]-a[0])*t, minY}
	})
	ring = clipEdge(ring, func(c geom.Coord) bool { return c[1] <= maxY }, func(a, b geom.Coord) geom.Coord {
		t := (maxY - a[1]) / (b[1] - a[1])
		return geom.Coord{a[0] + (b[0]-a[0])*t, maxY}
	})

	if len(ring) < 3 {
		return nil
	}

	flat := make([]float64, 0, (len(ring)+1)*2)
	for _, c := range ring {
		flat = append(flat, c[0], c[1])
	}
	flat = append(flat, ring[0][0], ring[0][1]) // close the ring
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326)
}

// clipEdge clips a subject ring against one half-plane. inside reports
// whether a vertex is on the kept side; intersect computes the crossing point
// of an edge with the clip boundary.
func clipEdge(ring []geom.Coord, inside func(geom.Coord) bool, intersect func(a, b geom.Coord) geom.Coord) []geom.Coord {
	if len(ring) == 0 {
		return nil
	}

	out := make([]geom.Coord, 0, len(ring)+4)
	prev := ring[len(ring)-1]
	prevIn := inside(prev)

	for _, cur := range ring {
		curIn := inside(cur)
		switch {
		case curIn && prevIn:
			out = append(out, cur)
		case curIn && !prevIn:
			out = append(out, intersect(prev, cur), cur)
		case !curIn && prevIn:
			out = append(out, intersect(prev, cur))
		}
		prev, prevIn = cur, curIn
	}
	return out
}

// coordsFromFlat expands a flat coordinate slice to Coord values.
func coordsFromFlat(flat []float64, stride int) []geom.Coord {
	n := len(flat) / stride
	coords := make([]geom.Coord, 0, n)
	for i := 0; i < n; i++ {
		coords = append(coords, geom.Coord{flat[i*stride], flat[i*stride+1]})
	}
	return coords
}
