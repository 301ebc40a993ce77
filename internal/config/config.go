package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/exposure-cli/internal/raster"
	"github.com/sells-group/exposure-cli/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Raster   RasterConfig   `yaml:"raster" mapstructure:"raster"`
	Sampling SamplingConfig `yaml:"sampling" mapstructure:"sampling"`
	Grid     GridConfig     `yaml:"grid" mapstructure:"grid"`
	Layers   []raster.Layer `yaml:"layers" mapstructure:"layers"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// RasterConfig configures the remote raster evaluation service.
type RasterConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// Timeout returns the per-request timeout as a duration.
func (c RasterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Retry builds the retry policy for raster calls.
func (c RasterConfig) Retry() resilience.RetryConfig {
	return resilience.FromRetryConfig(c.MaxRetries, c.InitialBackoffMs, c.MaxBackoffMs, 0, 0)
}

// SamplingConfig configures route discretization and point sampling.
// BufferM and ScaleM are independent knobs: layer catalogs disagree on the
// scale the same 25m buffer should be read at, so the pair is configuration,
// never a constant baked into a call site.
type SamplingConfig struct {
	IntervalM      float64 `yaml:"interval_m" mapstructure:"interval_m"`
	BufferM        float64 `yaml:"buffer_m" mapstructure:"buffer_m"`
	ScaleM         float64 `yaml:"scale_m" mapstructure:"scale_m"`
	BufferSegments int     `yaml:"buffer_segments" mapstructure:"buffer_segments"`
	MaxConcurrency int     `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// GridConfig configures large-region partitioning.
type GridConfig struct {
	CellSizeDeg     float64 `yaml:"cell_size_deg" mapstructure:"cell_size_deg"`
	MaxConcurrency  int     `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	MaxSubdivisions int     `yaml:"max_subdivisions" mapstructure:"max_subdivisions"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EXPOSURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("raster.base_url", "http://localhost:9090")
	v.SetDefault("raster.timeout_secs", 30)
	v.SetDefault("raster.rate_limit", 10.0)
	v.SetDefault("raster.max_retries", 3)
	v.SetDefault("raster.initial_backoff_ms", 1000)
	v.SetDefault("raster.max_backoff_ms", 30000)
	v.SetDefault("sampling.interval_m", 100.0)
	v.SetDefault("sampling.buffer_m", 25.0)
	v.SetDefault("sampling.scale_m", 30.0)
	v.SetDefault("sampling.buffer_segments", 32)
	v.SetDefault("sampling.max_concurrency", 8)
	v.SetDefault("grid.cell_size_deg", 0.1)
	v.SetDefault("grid.max_concurrency", 8)
	v.SetDefault("grid.max_subdivisions", 3)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "exposure.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("layers", []map[string]any{
		{"name": "NDVI", "id": "catalog/modis-ndvi", "native_resolution_m": 250.0},
		{"name": "NO2", "id": "catalog/s5p-no2", "native_resolution_m": 1000.0},
		{"name": "Temperature", "id": "catalog/era5-t2m", "native_resolution_m": 9000.0},
		{"name": "PM2.5", "id": "catalog/cams-pm25", "native_resolution_m": 10000.0},
	})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the parameters every pipeline entry point depends on.
// Structural errors here are fatal before any remote call is made.
func (c *Config) Validate() error {
	if c.Raster.BaseURL == "" {
		return eris.New("config: raster.base_url is required")
	}
	if c.Sampling.IntervalM <= 0 {
		return eris.New("config: sampling.interval_m must be > 0")
	}
	if c.Sampling.BufferM <= 0 {
		return eris.New("config: sampling.buffer_m must be > 0")
	}
	if c.Sampling.ScaleM <= 0 {
		return eris.New("config: sampling.scale_m must be > 0")
	}
	if c.Grid.CellSizeDeg <= 0 {
		return eris.New("config: grid.cell_size_deg must be > 0")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	seen := make(map[string]bool, len(c.Layers))
	for _, l := range c.Layers {
		if l.Name == "" || l.ID == "" {
			return eris.New("config: every layer needs a name and an id")
		}
		if seen[l.Name] {
			return eris.Errorf("config: duplicate layer name %q", l.Name)
		}
		seen[l.Name] = true
	}
	return nil
}

// LayerByName resolves a configured layer by its catalog name.
func (c *Config) LayerByName(name string) (raster.Layer, bool) {
	for _, l := range c.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return raster.Layer{}, false
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
