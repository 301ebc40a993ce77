package report

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/exposure-cli/internal/exposure"
)

// WriteStatsXLSX writes the long-format stats table to an XLSX workbook with
// a single "stats" sheet. NoData values become empty cells.
func WriteStatsXLSX(path string, rows []exposure.StatRow) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("stats")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range statHeader {
		header.AddCell().SetString(col)
	}

	for _, row := range rows {
		r := sheet.AddRow()
		r.AddCell().SetString(row.TripID)
		r.AddCell().SetString(row.Layer)
		r.AddCell().SetString(string(row.Stat))
		if row.Value != nil {
			r.AddCell().SetFloat(*row.Value)
		} else {
			r.AddCell()
		}
	}

	return eris.Wrapf(f.Save(path), "report: save %s", path)
}
