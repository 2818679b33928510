// Package config holds the configuration types and loading logic for the
// flightrec recorder.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a recorder instance.
type Config struct {
	Recording RecordingConfig `yaml:"recording"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// RecordingConfig controls sampling and chunk rotation.
type RecordingConfig struct {
	DataDir string `yaml:"data_dir"`
	// SampleIntervalMs is the delay between goroutine samples.
	SampleIntervalMs int `yaml:"sample_interval_ms"`
	// ChunkIntervalMs is how long a chunk collects samples before it is dumped.
	ChunkIntervalMs int `yaml:"chunk_interval_ms"`
	// MaxStackDepth caps the frames recorded per sample; deeper stacks are
	// marked truncated.
	MaxStackDepth int `yaml:"max_stack_depth"`
}

// FsyncPolicy controls when chunks are flushed to physical disk.
type FsyncPolicy string

const (
	FsyncAlways   FsyncPolicy = "always"   // safest, slowest
	FsyncInterval FsyncPolicy = "interval" // flush every FsyncIntervalMs, the default
	FsyncBatch    FsyncPolicy = "batch"    // flush every FsyncBatchSize chunks
	FsyncNever    FsyncPolicy = "never"    // dev/test only
)

// StorageConfig controls how dumped chunks are persisted.
type StorageConfig struct {
	Fsync           FsyncPolicy `yaml:"fsync"`
	FsyncIntervalMs int         `yaml:"fsync_interval_ms"`
	FsyncBatchSize  int         `yaml:"fsync_batch_size"`
	// MaxChunks bounds the repository; 0 keeps every chunk.
	MaxChunks         int    `yaml:"max_chunks"`
	RetentionInterval string `yaml:"retention_interval"`
}

// ServerConfig controls the HTTP endpoint serving stored chunks while
// recording.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// APIKey, when set, is required in the X-Api-Key header.
	APIKey string `yaml:"api_key"`
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Default returns a Config populated with the default values.
func Default() *Config {
	return &Config{
		Recording: RecordingConfig{
			DataDir:          "./data",
			SampleIntervalMs: 10,
			ChunkIntervalMs:  60_000,
			MaxStackDepth:    64,
		},
		Storage: StorageConfig{
			Fsync:             FsyncInterval,
			FsyncIntervalMs:   1000,
			FsyncBatchSize:    16,
			MaxChunks:         0,
			RetentionInterval: "1m",
		},
		Server: ServerConfig{
			Enabled:   false,
			Host:      "127.0.0.1",
			Port:      7070,
			RateLimit: 50,
			RateBurst: 100,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// A missing file is not an error: the defaults are returned.
//
// After loading the file, environment variables are applied as overrides:
//
//	FLIGHTREC_DATA_DIR      sets recording.data_dir
//	FLIGHTREC_METRICS_PORT  sets metrics.port and enables metrics
//	FLIGHTREC_LOG_LEVEL     sets log.level
//	FLIGHTREC_API_KEY       sets server.api_key
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FLIGHTREC_DATA_DIR"); v != "" {
		cfg.Recording.DataDir = v
	}
	if v := os.Getenv("FLIGHTREC_METRICS_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Metrics.Port = p
			cfg.Metrics.Enabled = true
		}
	}
	if v := os.Getenv("FLIGHTREC_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FLIGHTREC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Recording.DataDir == "" {
		return errors.New("recording.data_dir must not be empty")
	}
	if c.Recording.SampleIntervalMs < 1 {
		return errors.New("recording.sample_interval_ms must be at least 1")
	}
	if c.Recording.ChunkIntervalMs < c.Recording.SampleIntervalMs {
		return errors.New("recording.chunk_interval_ms must not be shorter than sample_interval_ms")
	}
	if c.Recording.MaxStackDepth < 1 {
		return errors.New("recording.max_stack_depth must be at least 1")
	}
	switch c.Storage.Fsync {
	case FsyncAlways, FsyncInterval, FsyncBatch, FsyncNever:
	default:
		return errors.New(`storage.fsync must be one of "always", "interval", "batch", "never"`)
	}
	if c.Storage.MaxChunks < 0 {
		return errors.New("storage.max_chunks must be >= 0")
	}
	if c.Storage.RetentionInterval != "" {
		if d, err := time.ParseDuration(c.Storage.RetentionInterval); err != nil || d <= 0 {
			return fmt.Errorf("storage.retention_interval %q is not a positive duration", c.Storage.RetentionInterval)
		}
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.RateLimit < 0 {
		return errors.New("server.rate_limit must be >= 0")
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not one of json, text", c.Log.Format)
	}
	return nil
}
