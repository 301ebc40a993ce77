package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/exposure"
	"github.com/sells-group/exposure-cli/internal/raster"
	"github.com/sells-group/exposure-cli/internal/store"
)

// buildEvaluator constructs the raster service client from config.
func buildEvaluator() *raster.Client {
	return raster.NewClient(cfg.Raster.BaseURL,
		raster.WithAPIKey(cfg.Raster.APIKey),
		raster.WithTimeout(cfg.Raster.Timeout()),
		raster.WithRateLimit(cfg.Raster.RateLimit),
		raster.WithRetry(cfg.Raster.Retry()),
	)
}

// samplerConfig maps sampling config onto the point sampler.
func samplerConfig() exposure.SamplerConfig {
	return exposure.SamplerConfig{
		BufferRadiusM:  cfg.Sampling.BufferM,
		ScaleM:         cfg.Sampling.ScaleM,
		BufferSegments: cfg.Sampling.BufferSegments,
		MaxConcurrency: cfg.Sampling.MaxConcurrency,
	}
}

// buildOrchestrator wires the per-trip pipeline from config.
func buildOrchestrator(ev raster.Evaluator) *exposure.Orchestrator {
	return exposure.NewOrchestrator(ev, cfg.Sampling.IntervalM, samplerConfig())
}

// resolveLayers maps a comma-separated --layers value to configured layers.
// An empty value selects every configured layer.
func resolveLayers(spec string) ([]raster.Layer, error) {
	if strings.TrimSpace(spec) == "" {
		return cfg.Layers, nil
	}

	var layers []raster.Layer
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		layer, ok := cfg.LayerByName(name)
		if !ok {
			return nil, eris.Errorf("unknown layer %q (configured: %s)", name, layerNames())
		}
		layers = append(layers, layer)
	}
	if len(layers) == 0 {
		return nil, eris.New("no layers selected")
	}
	return layers, nil
}

func layerNames() string {
	names := make([]string, len(cfg.Layers))
	for i, l := range cfg.Layers {
		names[i] = l.Name
	}
	return strings.Join(names, ", ")
}

// openStore opens the configured persistence backend and runs migrations.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
