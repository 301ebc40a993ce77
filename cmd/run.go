package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/exposure"
	"github.com/sells-group/exposure-cli/internal/geoio"
	"github.com/sells-group/exposure-cli/internal/report"
)

var (
	runRoute    string
	runTripID   string
	runLayers   string
	runOut      string
	runSave     bool
	runInterval float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute exposure statistics for a single route",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		layers, err := resolveLayers(runLayers)
		if err != nil {
			return err
		}

		route, err := geoio.ReadRouteGeoJSON(runRoute)
		if err != nil {
			return err
		}

		if runInterval > 0 {
			cfg.Sampling.IntervalM = runInterval
		}
		orch := buildOrchestrator(buildEvaluator())
		rec, err := orch.Run(ctx, exposure.Trip{ID: runTripID, Route: route}, layers)
		if err != nil {
			return eris.Wrapf(err, "run trip %s", runTripID)
		}

		zap.L().Info("trip complete",
			zap.String("trip_id", rec.TripID),
			zap.Int("points", len(rec.Points)),
			zap.Int("layers", len(rec.LayerKeys)),
			zap.Int("failures", len(rec.Failures)),
		)

		if runSave {
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SaveRecord(ctx, rec); err != nil {
				return err
			}
			if _, err := st.SaveStatRows(ctx, exposure.BuildStatRows(rec)); err != nil {
				return err
			}
		}

		if runOut != "" {
			if err := report.WriteStats(runOut, exposure.BuildStatRows(rec)); err != nil {
				return err
			}
		}

		return report.WriteRecordJSON(os.Stdout, rec)
	},
}

func init() {
	runCmd.Flags().StringVar(&runRoute, "route", "", "route GeoJSON file (required)")
	runCmd.Flags().StringVar(&runTripID, "trip-id", "trip-1", "identifier for the trip")
	runCmd.Flags().StringVar(&runLayers, "layers", "", "comma-separated layer names (default: all configured)")
	runCmd.Flags().Float64Var(&runInterval, "interval", 0, "sampling interval in meters (default from config)")
	runCmd.Flags().StringVar(&runOut, "out", "", "write stat rows to file (.csv, .xlsx, or .json)")
	runCmd.Flags().BoolVar(&runSave, "save", false, "persist the record and stat rows to the store")
	_ = runCmd.MarkFlagRequired("route")
	rootCmd.AddCommand(runCmd)
}
