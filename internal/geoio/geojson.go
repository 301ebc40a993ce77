package geoio

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// ReadRouteGeoJSON reads a route polyline from a GeoJSON file. The file may
// contain a bare LineString geometry, a Feature wrapping one, or a
// FeatureCollection whose first feature is one.
func ReadRouteGeoJSON(path string) (*geom.LineString, error) {
	g, err := readGeometry(path)
	if err != nil {
		return nil, err
	}
	ls, ok := g.(*geom.LineString)
	if !ok {
		return nil, eris.Errorf("geoio: %s contains %T, want LineString", path, g)
	}
	if ls.NumCoords() < 2 {
		return nil, eris.Errorf("geoio: route in %s has %d vertices, need at least 2", path, ls.NumCoords())
	}
	return ls, nil
}

// ReadRegionGeoJSON reads a study-area polygon from a GeoJSON file.
func ReadRegionGeoJSON(path string) (*geom.Polygon, error) {
	g, err := readGeometry(path)
	if err != nil {
		return nil, err
	}
	switch t := g.(type) {
	case *geom.Polygon:
		return t, nil
	case *geom.MultiPolygon:
		if t.NumPolygons() == 1 {
			return t.Polygon(0), nil
		}
		return nil, eris.Errorf("geoio: %s contains a MultiPolygon with %d parts, want a single Polygon", path, t.NumPolygons())
	default:
		return nil, eris.Errorf("geoio: %s contains %T, want Polygon", path, g)
	}
}

// readGeometry extracts the first geometry from a GeoJSON document.
func readGeometry(path string) (geom.T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: read %s", path)
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, eris.Wrapf(err, "geoio: parse %s", path)
	}

	switch probe.Type {
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrapf(err, "geoio: parse feature %s", path)
		}
		if f.Geometry == nil {
			return nil, eris.Errorf("geoio: feature in %s has no geometry", path)
		}
		return f.Geometry, nil

	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrapf(err, "geoio: parse feature collection %s", path)
		}
		if len(fc.Features) == 0 || fc.Features[0].Geometry == nil {
			return nil, eris.Errorf("geoio: %s has no features with geometry", path)
		}
		return fc.Features[0].Geometry, nil

	default:
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrapf(err, "geoio: parse geometry %s", path)
		}
		return g, nil
	}
}
