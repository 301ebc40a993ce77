package exposure

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/raster"
)

// ErrDuplicateLayerKey is returned when two distinct layer names sanitize to
// the same record key.
var ErrDuplicateLayerKey = eris.New("exposure: duplicate layer key after sanitization")

// Orchestrator runs the full per-trip pipeline: one discretization pass, then
// sampling and aggregation for each requested layer over the same points, so
// exposures are directly comparable across layers.
type Orchestrator struct {
	evaluator raster.Evaluator
	intervalM float64
	sampler   SamplerConfig
}

// NewOrchestrator creates an Orchestrator with the given evaluator, sampling
// interval, and sampler configuration.
func NewOrchestrator(ev raster.Evaluator, intervalM float64, sampler SamplerConfig) *Orchestrator {
	return &Orchestrator{evaluator: ev, intervalM: intervalM, sampler: sampler}
}

// SanitizeLayerKey strips characters that are not legal in a property key.
// Raster catalogs use names like "PM2.5" freely; record keys cannot.
func SanitizeLayerKey(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return -1
		}
	}, name)
}

// Run computes the exposure record for one trip across the given layers.
// Layer order is preserved in the record. A duplicate sanitized key aborts
// this trip only.
func (o *Orchestrator) Run(ctx context.Context, trip Trip, layers []raster.Layer) (*TripRecord, error) {
	log := zap.L().With(
		zap.String("component", "exposure.orchestrator"),
		zap.String("trip_id", trip.ID),
	)

	// Validate keys before issuing any remote query.
	keys := make([]string, len(layers))
	seen := make(map[string]string, len(layers))
	for i, layer := range layers {
		key := SanitizeLayerKey(layer.Name)
		if prev, dup := seen[key]; dup {
			return nil, eris.Wrapf(ErrDuplicateLayerKey, "%q and %q both map to %q", prev, layer.Name, key)
		}
		seen[key] = layer.Name
		keys[i] = key
	}

	points, err := Discretize(trip.Route, o.intervalM)
	if err != nil {
		return nil, err
	}
	log.Debug("route discretized",
		zap.Int("points", len(points)),
		zap.Float64("interval_m", o.intervalM),
	)

	rec := &TripRecord{
		TripID:      trip.ID,
		Route:       trip.Route,
		Points:      points,
		LayerKeys:   keys,
		ByLayer:     make(map[string]Summary, len(layers)),
		GeneratedAt: time.Now().UTC(),
	}

	for i, layer := range layers {
		samples, failures, err := SampleLayer(ctx, o.evaluator, layer, points, o.sampler)
		if err != nil {
			return nil, err
		}

		summary := Aggregate(keys[i], samples, len(failures))
		rec.ByLayer[keys[i]] = summary
		rec.Failures = append(rec.Failures, failures...)

		log.Info("layer sampled",
			zap.String("layer", layer.Name),
			zap.Int("valid_samples", summary.SampleCount),
			zap.Int("failed_samples", summary.FailedCount),
		)
	}

	return rec, nil
}
