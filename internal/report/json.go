package report

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/exposure"
)

// WriteRecordJSON writes a trip record as indented JSON.
func WriteRecordJSON(w io.Writer, rec *exposure.TripRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(rec), "report: encode record")
}

// WriteStatsJSON writes the long-format stats table as indented JSON.
func WriteStatsJSON(w io.Writer, rows []exposure.StatRow) error {
	if rows == nil {
		rows = []exposure.StatRow{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(rows), "report: encode stats")
}

// WriteStatsJSONFile writes the stats table to a file at path.
func WriteStatsJSONFile(path string, rows []exposure.StatRow) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := WriteStatsJSON(f, rows); err != nil {
		f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "report: close %s", path)
}
