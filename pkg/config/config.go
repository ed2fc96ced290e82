// Package config loads engine configuration from YAML files and the
// environment. Freshness weights and thresholds are configuration, not
// constants: the scoring scheme is a tuning surface, not a contract.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Storage   StorageConfig   `koanf:"storage"`
	Freshness FreshnessConfig `koanf:"freshness"`
	Capture   CaptureConfig   `koanf:"capture"`
	Correlate CorrelateConfig `koanf:"correlate"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type StorageConfig struct {
	// Path is the SQLite database path. ":memory:" keeps everything
	// in-process, which is what the tests use.
	Path string `koanf:"path"`
}

type FreshnessConfig struct {
	// Weights maps component names to their score contribution.
	Weights map[string]float64 `koanf:"weights"`

	// DecayWeight is the share of the score given to the uniform
	// time-decay term.
	DecayWeight float64 `koanf:"decay_weight"`

	// DecayHorizon bounds the linear time decay; components older
	// than the horizon are treated as expired.
	DecayHorizon time.Duration `koanf:"decay_horizon"`

	// FreshThreshold and InvalidThreshold gate packaging.
	FreshThreshold   float64 `koanf:"fresh_threshold"`
	InvalidThreshold float64 `koanf:"invalid_threshold"`
}

type CaptureConfig struct {
	QueueSize    int           `koanf:"queue_size"`
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`

	// WriteTimeout bounds each persistence attempt independently of
	// any caller deadline.
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type CorrelateConfig struct {
	// ConfidenceFloor is the minimum combined tag confidence for a
	// cross-domain pair to correlate.
	ConfidenceFloor float64 `koanf:"confidence_floor"`

	// SweepInterval drives the periodic correlation pass. Zero
	// disables the sweeper; Correlate stays available on demand.
	SweepInterval time.Duration `koanf:"sweep_interval"`
	SweepTimeout  time.Duration `koanf:"sweep_timeout"`

	// WindowSince bounds each sweep to records captured within this
	// duration before the pass.
	WindowSince time.Duration `koanf:"window_since"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "stdout")

	k.Set("storage.path", "omniintelligence.db")

	k.Set("freshness.weights", map[string]float64{
		"request":         0.40,
		"constraints":     0.25,
		"validation_plan": 0.20,
		"risk_notes":      0.10,
	})
	k.Set("freshness.decay_weight", 0.05)
	k.Set("freshness.decay_horizon", "24h")
	k.Set("freshness.fresh_threshold", 0.8)
	k.Set("freshness.invalid_threshold", 0.5)

	k.Set("capture.queue_size", 256)
	k.Set("capture.max_attempts", 3)
	k.Set("capture.initial_delay", "100ms")
	k.Set("capture.max_delay", "2s")
	k.Set("capture.write_timeout", "5s")

	k.Set("correlate.confidence_floor", 0.5)
	k.Set("correlate.sweep_interval", "5m")
	k.Set("correlate.sweep_timeout", "30s")
	k.Set("correlate.window_since", "24h")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (OMNI_LOG_LEVEL -> log.level)
	if err := k.Load(env.Provider("OMNI_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "OMNI_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
