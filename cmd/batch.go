package main

import (
	"context"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/exposure-cli/internal/exposure"
	"github.com/sells-group/exposure-cli/internal/geoio"
	"github.com/sells-group/exposure-cli/internal/raster"
	"github.com/sells-group/exposure-cli/internal/report"
	"github.com/sells-group/exposure-cli/internal/store"
)

var (
	batchTrips       string
	batchLayers      string
	batchOut         string
	batchSave        bool
	batchLimit       int
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Compute exposure statistics for a CSV of trips",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		layers, err := resolveLayers(batchLayers)
		if err != nil {
			return err
		}

		trips, err := geoio.ReadTripsCSV(batchTrips)
		if err != nil {
			return err
		}

		var st store.Store
		if batchSave {
			st, err = openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
		}

		recs, err := processBatch(ctx, trips, layers, batchLimit, batchConcurrency, st)
		if err != nil {
			return err
		}

		if batchOut != "" {
			if err := report.WriteStats(batchOut, exposure.BuildStatTable(recs)); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchTrips, "trips", "", "trips CSV file with trip_id,lon,lat columns (required)")
	batchCmd.Flags().StringVar(&batchLayers, "layers", "", "comma-separated layer names (default: all configured)")
	batchCmd.Flags().StringVar(&batchOut, "out", "", "write the combined stats table to file (.csv, .xlsx, or .json)")
	batchCmd.Flags().BoolVar(&batchSave, "save", false, "persist records and stat rows to the store")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of trips to process (0 = all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 4, "trips processed in parallel")
	_ = batchCmd.MarkFlagRequired("trips")
	rootCmd.AddCommand(batchCmd)
}

// processBatch runs the orchestrator over trips concurrently. Individual trip
// failures are logged and skipped; only cancellation aborts the batch.
// Returned records preserve input trip order.
func processBatch(ctx context.Context, trips []exposure.Trip, layers []raster.Layer, limit, concurrency int, st store.Store) ([]*exposure.TripRecord, error) {
	if limit > 0 && len(trips) > limit {
		trips = trips[:limit]
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	zap.L().Info("processing batch",
		zap.Int("trips", len(trips)),
		zap.Int("layers", len(layers)),
		zap.Int("concurrency", concurrency),
	)

	orch := buildOrchestrator(buildEvaluator())

	results := make([]*exposure.TripRecord, len(trips))
	var failed atomic.Int64
	var mu sync.Mutex // guards store writes for the sqlite backend

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, trip := range trips {
		g.Go(func() error {
			log := zap.L().With(zap.String("trip_id", trip.ID))

			rec, err := orch.Run(gctx, trip, layers)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				log.Error("trip failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			if st != nil {
				mu.Lock()
				defer mu.Unlock()
				if err := st.SaveRecord(gctx, rec); err != nil {
					return err
				}
				if _, err := st.SaveStatRows(gctx, exposure.BuildStatRows(rec)); err != nil {
					return err
				}
			}

			results[i] = rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch processing")
	}

	recs := make([]*exposure.TripRecord, 0, len(results))
	for _, rec := range results {
		if rec != nil {
			recs = append(recs, rec)
		}
	}

	zap.L().Info("batch complete",
		zap.Int("succeeded", len(recs)),
		zap.Int64("failed", failed.Load()),
	)
	return recs, nil
}
