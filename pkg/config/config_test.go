package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Log.Level)
	}
	if cfg.Freshness.Weights["request"] != 0.40 {
		t.Errorf("expected request weight 0.40, got %v", cfg.Freshness.Weights["request"])
	}
	if cfg.Freshness.DecayHorizon != 24*time.Hour {
		t.Errorf("expected 24h decay horizon, got %v", cfg.Freshness.DecayHorizon)
	}
	if cfg.Freshness.FreshThreshold != 0.8 || cfg.Freshness.InvalidThreshold != 0.5 {
		t.Errorf("unexpected thresholds: %v / %v", cfg.Freshness.FreshThreshold, cfg.Freshness.InvalidThreshold)
	}
	if cfg.Capture.MaxAttempts != 3 {
		t.Errorf("expected 3 capture attempts, got %d", cfg.Capture.MaxAttempts)
	}
	if cfg.Correlate.ConfidenceFloor != 0.5 {
		t.Errorf("expected correlation floor 0.5, got %v", cfg.Correlate.ConfidenceFloor)
	}
}

func TestLoadEnv(t *testing.T) {
	os.Setenv("OMNI_LOG_LEVEL", "debug")
	defer os.Unsetenv("OMNI_LOG_LEVEL")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug from env, got %s", cfg.Log.Level)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()

	raw := `
log:
  level: "warn"
storage:
  path: ":memory:"
freshness:
  decay_horizon: "48h"
  weights:
    request: 0.5
    constraints: 0.5
correlate:
  confidence_floor: 0.7
`
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("expected warn, got %s", cfg.Log.Level)
	}
	if cfg.Storage.Path != ":memory:" {
		t.Errorf("expected :memory:, got %s", cfg.Storage.Path)
	}
	if cfg.Freshness.DecayHorizon != 48*time.Hour {
		t.Errorf("expected 48h, got %v", cfg.Freshness.DecayHorizon)
	}
	if cfg.Freshness.Weights["request"] != 0.5 {
		t.Errorf("expected overridden request weight, got %v", cfg.Freshness.Weights["request"])
	}
	if cfg.Correlate.ConfidenceFloor != 0.7 {
		t.Errorf("expected floor 0.7, got %v", cfg.Correlate.ConfidenceFloor)
	}
}
