package geoio

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/exposure-cli/internal/exposure"
)

// ReadTripsCSV reads trips from a CSV file with columns trip_id, lon, lat
// (header required, extra columns ignored). Consecutive rows sharing a
// trip_id form that trip's route in row order.
func ReadTripsCSV(path string) ([]exposure.Trip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: open %s", path)
	}
	defer f.Close()

	trips, err := parseTrips(f)
	return trips, eris.Wrapf(err, "geoio: parse %s", path)
}

func parseTrips(r io.Reader) ([]exposure.Trip, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("empty file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "read header")
	}

	idCol, lonCol, latCol := -1, -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "trip_id", "trip":
			idCol = i
		case "lon", "lng", "longitude":
			lonCol = i
		case "lat", "latitude":
			latCol = i
		}
	}
	if idCol < 0 || lonCol < 0 || latCol < 0 {
		return nil, eris.Errorf("header %v missing trip_id/lon/lat columns", header)
	}

	var trips []exposure.Trip
	var curID string
	var coords []float64
	line := 1

	flush := func() error {
		if curID == "" {
			return nil
		}
		if len(coords) < 4 {
			return eris.Errorf("trip %s has fewer than 2 points", curID)
		}
		route := geom.NewLineStringFlat(geom.XY, coords)
		route.SetSRID(4326)
		trips = append(trips, exposure.Trip{ID: curID, Route: route})
		coords = nil
		return nil
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read row")
		}
		line++

		maxCol := idCol
		if lonCol > maxCol {
			maxCol = lonCol
		}
		if latCol > maxCol {
			maxCol = latCol
		}
		if len(record) <= maxCol {
			return nil, eris.Errorf("line %d: too few columns", line)
		}

		id := strings.TrimSpace(record[idCol])
		lon, err := strconv.ParseFloat(strings.TrimSpace(record[lonCol]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "line %d: lon", line)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(record[latCol]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "line %d: lat", line)
		}

		if id != curID {
			if err := flush(); err != nil {
				return nil, err
			}
			curID = id
		}
		coords = append(coords, lon, lat)
	}

	if err := flush(); err != nil {
		return nil, err
	}
	if len(trips) == 0 {
		return nil, eris.New("no trips")
	}
	return trips, nil
}
