// Package geoio reads trip routes and study regions from GeoJSON, shapefile,
// and CSV inputs, normalizing everything to go-geom types in EPSG:4326.
package geoio

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// Region is a named study area read from a shapefile.
type Region struct {
	Name    string
	Polygon *geom.Polygon
}

// nameFields are attribute names tried, in order, when labeling a region.
var nameFields = []string{"name", "namelsad", "region", "id", "geoid"}

// ReadRegionsShapefile reads polygon records from a shapefile. Each part of a
// multi-part record becomes its own Region; records without a polygon shape
// are skipped.
func ReadRegionsShapefile(shpPath string) ([]Region, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	var regions []Region
	var skipped int
	record := 0

	for reader.Next() {
		_, shape := reader.Shape()
		record++

		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}

		name := regionName(reader, fieldIdx, record)
		parts := polygonParts(poly)
		if len(parts) == 0 {
			skipped++
			continue
		}
		for _, p := range parts {
			regions = append(regions, Region{Name: name, Polygon: p})
		}
	}

	if skipped > 0 {
		zap.L().Debug("geoio: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	if len(regions) == 0 {
		return nil, eris.Errorf("geoio: no polygon records in %s", shpPath)
	}
	return regions, nil
}

// regionName resolves a label for the record from known attribute fields,
// falling back to the record ordinal.
func regionName(reader *shp.Reader, fieldIdx map[string]int, record int) string {
	for _, f := range nameFields {
		idx, ok := fieldIdx[f]
		if !ok {
			continue
		}
		val := strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
		if val != "" {
			return val
		}
	}
	return "region-" + strconv.Itoa(record)
}

// polygonParts converts a shapefile Polygon to one go-geom Polygon per part.
func polygonParts(p *shp.Polygon) []*geom.Polygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	parts := make([]*geom.Polygon, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		if len(flat) < 8 { // a closed ring needs at least 4 vertices
			continue
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("geoio: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
		poly.SetSRID(4326)
		parts = append(parts, poly)
	}
	return parts
}
