package report

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/exposure"
)

// WriteStatsCSV writes the long-format stats table to w.
func WriteStatsCSV(w io.Writer, rows []exposure.StatRow) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(statHeader); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, row := range rows {
		record := []string{row.TripID, row.Layer, string(row.Stat), formatValue(row.Value)}
		if err := writer.Write(record); err != nil {
			return eris.Wrapf(err, "report: write csv row %s/%s", row.TripID, row.Layer)
		}
	}

	writer.Flush()
	return eris.Wrap(writer.Error(), "report: flush csv")
}

// WriteStatsCSVFile writes the stats table to a file at path.
func WriteStatsCSVFile(path string, rows []exposure.StatRow) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := WriteStatsCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "report: close %s", path)
}
