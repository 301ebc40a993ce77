package exposure

// BuildStatRows flattens a trip record into long-format rows: for each layer
// in original request order, one row per statistic in Min, Mean, Max order.
// NoData statistics carry through as nil values; rows are never dropped or
// reordered.
func BuildStatRows(rec *TripRecord) []StatRow {
	rows := make([]StatRow, 0, len(rec.LayerKeys)*3)
	for _, key := range rec.LayerKeys {
		s := rec.ByLayer[key]
		rows = append(rows,
			StatRow{TripID: rec.TripID, Layer: key, Stat: StatMin, Value: copyFloat(s.Min)},
			StatRow{TripID: rec.TripID, Layer: key, Stat: StatMean, Value: copyFloat(s.Mean)},
			StatRow{TripID: rec.TripID, Layer: key, Stat: StatMax, Value: copyFloat(s.Max)},
		)
	}
	return rows
}

// BuildStatTable flattens a batch of trip records, preserving record order.
func BuildStatTable(recs []*TripRecord) []StatRow {
	var rows []StatRow
	for _, rec := range recs {
		rows = append(rows, BuildStatRows(rec)...)
	}
	return rows
}

// copyFloat clones a *float64 so stat rows never alias a record's summary.
func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}
