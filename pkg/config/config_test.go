package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to validate, got %v", err)
	}

	if cfg.Filter.Anisotropic.TimeStep != 0.06 || cfg.Filter.Anisotropic.Conductance != 9.0 || cfg.Filter.Anisotropic.Iterations != 5 {
		t.Errorf("Unexpected anisotropic defaults: %+v", cfg.Filter.Anisotropic)
	}
	if cfg.Initializer.Method != InitDistance {
		t.Errorf("Expected the distance initializer by default, got %q", cfg.Initializer.Method)
	}
	if cfg.GeodesicActiveContour.Iterations != 600 {
		t.Errorf("Expected 600 GAC iterations, got %d", cfg.GeodesicActiveContour.Iterations)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"filter method", func(c *Config) { c.Filter.Method = 4 }},
		{"k1 not a number", func(c *Config) { c.Feature.K1 = math.NaN() }},
		{"negative sigma", func(c *Config) { c.Feature.Sigma = -1 }},
		{"zero median radius", func(c *Config) { c.Filter.Method = FilterMedian; c.Filter.Median.Radius = 0 }},
		{"gaussian sigma", func(c *Config) { c.Filter.Method = FilterGaussian; c.Filter.Gaussian.Sigma = 0 }},
		{"inverted threshold", func(c *Config) { c.FastMarching.Threshold = Range{Low: 5, High: 1} }},
		{"iterations", func(c *Config) { c.ShapeDetection.Iterations = 0 }},
		{"workers", func(c *Config) { c.Processing.Workers = 0 }},
		{"initializer", func(c *Config) { c.Initializer.Method = "sphere" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if errors.Cause(err) != ErrInvalid {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "liverseg.yaml")

	cfg := DefaultConfig()
	cfg.Feature.K1 = 3.5
	cfg.Filter.Method = FilterMedian
	cfg.Initializer.Method = InitDisc

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Feature.K1 != 3.5 {
		t.Errorf("Expected K1 3.5, got %g", loaded.Feature.K1)
	}
	if loaded.Filter.Method != FilterMedian {
		t.Errorf("Expected median filter, got %d", loaded.Filter.Method)
	}
	if loaded.Initializer.Method != InitDisc {
		t.Errorf("Expected the disc initializer, got %q", loaded.Initializer.Method)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.Feature.Sigma != DefaultConfig().Feature.Sigma {
		t.Errorf("Expected default sigma, got %g", cfg.Feature.Sigma)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("filter: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected parse error, got nil")
	}
}
