// Package report writes exposure results to CSV, XLSX, and JSON outputs.
// NoData statistics are written as empty cells, never as zero.
package report

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/exposure"
)

// statHeader is the column order of the long-format stats table.
var statHeader = []string{"trip_id", "layer", "stat", "value"}

// WriteStats writes stat rows to path, picking the format from the extension.
func WriteStats(path string, rows []exposure.StatRow) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return WriteStatsCSVFile(path, rows)
	case ".xlsx":
		return WriteStatsXLSX(path, rows)
	case ".json":
		return WriteStatsJSONFile(path, rows)
	default:
		return eris.Errorf("report: unsupported output format %q", filepath.Ext(path))
	}
}

// formatValue renders a stat value for text outputs. NoData renders empty.
func formatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
