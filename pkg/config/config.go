// Package config provides configuration loading and management for liverseg.
// It handles loading configuration from YAML files, provides default values
// taken from the interactive workflow, and validates every stage's parameters
// before any filter runs.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Filter method numbers as offered by the interactive prompt.
const (
	FilterAnisotropic = 1
	FilterGaussian    = 2
	FilterMedian      = 3
)

// Initial level set builders.
const (
	InitDistance = "distance"
	InitDisc     = "disc"
)

// Range is an inclusive [Low, High] threshold pair.
type Range struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers bounds how many slices are filtered concurrently
		Workers int `yaml:"workers"`

		// SaveIntermediaryResults writes a PNG per pipeline stage
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where stage PNGs and masks are written
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"processing"`

	// Filter selects and parameterises the denoising stage
	Filter struct {
		// Method is 1 (anisotropic diffusion), 2 (recursive Gaussian) or 3 (median)
		Method int `yaml:"method"`

		Anisotropic struct {
			TimeStep    float64 `yaml:"timeStep"`
			Conductance float64 `yaml:"conductance"`
			Iterations  int     `yaml:"iterations"`
		} `yaml:"anisotropic"`

		Gaussian struct {
			Sigma float64 `yaml:"sigma"`
		} `yaml:"gaussian"`

		Median struct {
			Radius int `yaml:"radius"`
		} `yaml:"median"`
	} `yaml:"filter"`

	// Feature image parameters (gradient magnitude + sigmoid)
	Feature struct {
		Sigma float64 `yaml:"sigma"`
		K1    float64 `yaml:"k1"`
		K2    float64 `yaml:"k2"`
	} `yaml:"feature"`

	// Initializer builds the starting level set of shape detection and
	// geodesic active contours: "distance" thresholds the seed distance map,
	// "disc" stamps a disc of the seed radius around every seed
	Initializer struct {
		Method string `yaml:"method"`
	} `yaml:"initializer"`

	FastMarching struct {
		// StoppingValue ends propagation once arrival times exceed it
		StoppingValue float64 `yaml:"stoppingValue"`

		// Threshold binarises the arrival time field
		Threshold Range `yaml:"threshold"`
	} `yaml:"fastMarching"`

	ShapeDetection struct {
		MaxRMSError float64 `yaml:"maxRMSError"`
		Propagation float64 `yaml:"propagation"`
		Curvature   float64 `yaml:"curvature"`
		Iterations  int     `yaml:"iterations"`
		Threshold   Range   `yaml:"threshold"`
	} `yaml:"shapeDetection"`

	GeodesicActiveContour struct {
		Propagation float64 `yaml:"propagation"`
		Curvature   float64 `yaml:"curvature"`
		Advection   float64 `yaml:"advection"`
		MaxRMSError float64 `yaml:"maxRMSError"`
		Iterations  int     `yaml:"iterations"`
		Threshold   Range   `yaml:"threshold"`
	} `yaml:"geodesicActiveContour"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.SaveIntermediaryResults = false
	cfg.Processing.IntermediaryDir = "intermediary_results"
	cfg.Processing.Verbose = false

	cfg.Filter.Method = FilterAnisotropic
	cfg.Filter.Anisotropic.TimeStep = 0.06
	cfg.Filter.Anisotropic.Conductance = 9.0
	cfg.Filter.Anisotropic.Iterations = 5
	cfg.Filter.Gaussian.Sigma = 2.0
	cfg.Filter.Median.Radius = 3

	cfg.Feature.Sigma = 2.0
	cfg.Feature.K1 = 12.0
	cfg.Feature.K2 = 3.0

	cfg.Initializer.Method = InitDistance

	cfg.FastMarching.StoppingValue = 100
	cfg.FastMarching.Threshold = Range{Low: 0, High: 80}

	cfg.ShapeDetection.MaxRMSError = 0.02
	cfg.ShapeDetection.Propagation = 1.0
	cfg.ShapeDetection.Curvature = 0.2
	cfg.ShapeDetection.Iterations = 500
	cfg.ShapeDetection.Threshold = Range{Low: -1e7, High: 0}

	cfg.GeodesicActiveContour.Propagation = 1.0
	cfg.GeodesicActiveContour.Curvature = 0.2
	cfg.GeodesicActiveContour.Advection = 4.0
	cfg.GeodesicActiveContour.MaxRMSError = 0.01
	cfg.GeodesicActiveContour.Iterations = 600
	cfg.GeodesicActiveContour.Threshold = Range{Low: -1e7, High: 0}

	return cfg
}

// Validate checks every stage. All problems are reported together.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Processing.Workers < 1 {
		add("processing.workers must be >= 1, got %d", c.Processing.Workers)
	}

	switch c.Filter.Method {
	case FilterAnisotropic:
		a := c.Filter.Anisotropic
		if a.TimeStep <= 0 {
			add("filter.anisotropic.timeStep must be > 0, got %g", a.TimeStep)
		}
		if a.Conductance <= 0 {
			add("filter.anisotropic.conductance must be > 0, got %g", a.Conductance)
		}
		if a.Iterations < 1 {
			add("filter.anisotropic.iterations must be >= 1, got %d", a.Iterations)
		}
	case FilterGaussian:
		if c.Filter.Gaussian.Sigma <= 0 {
			add("filter.gaussian.sigma must be > 0, got %g", c.Filter.Gaussian.Sigma)
		}
	case FilterMedian:
		if c.Filter.Median.Radius < 1 {
			add("filter.median.radius must be >= 1, got %d", c.Filter.Median.Radius)
		}
	default:
		add("filter.method must be 1, 2 or 3, got %d", c.Filter.Method)
	}

	if c.Feature.Sigma <= 0 {
		add("feature.sigma must be > 0, got %g", c.Feature.Sigma)
	}
	if math.IsNaN(c.Feature.K1) || math.IsNaN(c.Feature.K2) {
		add("feature.k1 and feature.k2 must be numbers")
	}

	switch c.Initializer.Method {
	case InitDistance, InitDisc:
	default:
		add("initializer.method must be %q or %q, got %q", InitDistance, InitDisc, c.Initializer.Method)
	}

	if c.FastMarching.StoppingValue <= 0 {
		add("fastMarching.stoppingValue must be > 0, got %g", c.FastMarching.StoppingValue)
	}
	checkRange(add, "fastMarching.threshold", c.FastMarching.Threshold)

	sd := c.ShapeDetection
	if sd.MaxRMSError <= 0 {
		add("shapeDetection.maxRMSError must be > 0, got %g", sd.MaxRMSError)
	}
	if sd.Iterations < 1 {
		add("shapeDetection.iterations must be >= 1, got %d", sd.Iterations)
	}
	if sd.Curvature < 0 {
		add("shapeDetection.curvature must be >= 0, got %g", sd.Curvature)
	}
	checkRange(add, "shapeDetection.threshold", sd.Threshold)

	gac := c.GeodesicActiveContour
	if gac.MaxRMSError <= 0 {
		add("geodesicActiveContour.maxRMSError must be > 0, got %g", gac.MaxRMSError)
	}
	if gac.Iterations < 1 {
		add("geodesicActiveContour.iterations must be >= 1, got %d", gac.Iterations)
	}
	if gac.Curvature < 0 {
		add("geodesicActiveContour.curvature must be >= 0, got %g", gac.Curvature)
	}
	if gac.Advection < 0 {
		add("geodesicActiveContour.advection must be >= 0, got %g", gac.Advection)
	}
	checkRange(add, "geodesicActiveContour.threshold", gac.Threshold)

	if len(problems) > 0 {
		return errors.Wrap(ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func checkRange(add func(string, ...interface{}), name string, r Range) {
	if r.Low > r.High {
		add("%s.low (%g) must not exceed %s.high (%g)", name, r.Low, name, r.High)
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
