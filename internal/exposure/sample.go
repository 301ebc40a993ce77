package exposure

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/exposure-cli/internal/geometry"
	"github.com/sells-group/exposure-cli/internal/raster"
)

// SamplerConfig parametrizes point sampling. Buffer radius and scale are
// deliberately independent settings: the service catalog in use determines
// the scale a layer should be read at, and it is a configuration decision,
// never a hardcoded constant.
type SamplerConfig struct {
	// BufferRadiusM is the radius of the circular averaging region around
	// each sample point.
	BufferRadiusM float64

	// ScaleM is the resolution the raster service evaluates at.
	ScaleM float64

	// BufferSegments is the vertex count of the buffer polygon. Default 32.
	BufferSegments int

	// MaxConcurrency caps in-flight raster queries. Default 8.
	MaxConcurrency int
}

func (c SamplerConfig) withDefaults() SamplerConfig {
	if c.BufferSegments <= 0 {
		c.BufferSegments = 32
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	return c
}

// pointQuery is one planned raster query. The plan is built in full before
// anything is dispatched, so query construction stays pure and repeatable.
type pointQuery struct {
	index  int
	region *geom.Polygon
}

// buildQueryPlan constructs the buffer region for every sample point.
func buildQueryPlan(points []SamplePoint, cfg SamplerConfig) []pointQuery {
	plan := make([]pointQuery, len(points))
	for i, p := range points {
		plan[i] = pointQuery{
			index:  i,
			region: geometry.Circle(p.Location, cfg.BufferRadiusM, cfg.BufferSegments),
		}
	}
	return plan
}

// SampleLayer queries one raster layer at every sample point and returns the
// per-point samples in point order. Individual query failures are collected
// as SampleFailures rather than aborting the layer; the corresponding sample
// is recorded as NoData so the aggregation stage skips it. The returned error
// is non-nil only on cancellation.
func SampleLayer(ctx context.Context, ev raster.Evaluator, layer raster.Layer, points []SamplePoint, cfg SamplerConfig) ([]LayerSample, []SampleFailure, error) {
	cfg = cfg.withDefaults()
	plan := buildQueryPlan(points, cfg)

	log := zap.L().With(
		zap.String("component", "exposure.sampler"),
		zap.String("layer", layer.Name),
	)

	values := make([]raster.Value, len(plan))
	var (
		mu       sync.Mutex
		failures []SampleFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)

	for _, q := range plan {
		g.Go(func() error {
			v, err := ev.EvaluateRegionMean(gctx, layer, q.region, cfg.ScaleM)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("point sample failed",
					zap.Int("point", q.index),
					zap.Float64("distance_m", points[q.index].DistanceM),
					zap.Error(err),
				)
				mu.Lock()
				failures = append(failures, SampleFailure{
					PointIndex: q.index,
					DistanceM:  points[q.index].DistanceM,
					Reason:     err.Error(),
				})
				mu.Unlock()
				values[q.index] = raster.NoData()
				return nil // point failures never abort the layer
			}
			values[q.index] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrapf(err, "exposure: sample layer %s", layer.Name)
	}

	samples := make([]LayerSample, len(points))
	for i, p := range points {
		samples[i] = LayerSample{Point: p, Layer: layer.Name, Value: values[i]}
	}
	return samples, failures, nil
}
