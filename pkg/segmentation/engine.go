// Package segmentation runs the level set segmentations of liverseg on a
// feature image and turns their output into binary masks.
package segmentation

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"liverseg/internal/models"
	"liverseg/pkg/config"
	"liverseg/pkg/filters"
	"liverseg/pkg/levelset"
)

// Mode selects a segmentation algorithm.
type Mode int

const (
	FastMarching Mode = iota + 1
	ShapeDetection
	GeodesicActiveContour
)

// Modes lists every mode in pipeline order.
var Modes = []Mode{FastMarching, ShapeDetection, GeodesicActiveContour}

func (m Mode) String() string {
	switch m {
	case FastMarching:
		return "fast_marching"
	case ShapeDetection:
		return "shape_detection"
	case GeodesicActiveContour:
		return "geodesic_active_contour"
	}
	return "unknown"
}

// ParseMode accepts the names returned by String, plus the short forms
// fm, sd and gac.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast_marching", "fm":
		return FastMarching, nil
	case "shape_detection", "sd":
		return ShapeDetection, nil
	case "geodesic_active_contour", "gac":
		return GeodesicActiveContour, nil
	}
	return 0, errors.Errorf("unknown segmentation mode %q", s)
}

// Outcome is the result of one segmentation run.
type Outcome struct {
	Mode Mode

	// Levels is the raw output: arrival times for fast marching, the final
	// level set otherwise
	Levels *models.Volume

	// Mask is Levels binarised with Threshold (1 inside, 255 outside)
	Mask      *models.Volume
	Threshold config.Range

	Iterations int
	RMSChange  float64
	Converged  bool
	Elapsed    time.Duration
}

// Engine dispatches segmentations with parameters from a configuration.
type Engine struct {
	Config *config.Config
	Logger *logrus.Logger
}

// NewEngine validates cfg and returns an engine using it.
func NewEngine(cfg *config.Config, logger *logrus.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{Config: cfg, Logger: logger}, nil
}

// Run segments feature with mode. Fast marching propagates from seeds;
// the level set modes evolve init, which is built from the seeds with
// levelset.DistanceThreshold when nil.
func (e *Engine) Run(ctx context.Context, mode Mode, feature *models.Volume, seeds []models.Seed, init *models.Volume) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{Mode: mode}
	var threshold config.Range

	switch mode {
	case FastMarching:
		fm := e.Config.FastMarching
		arrival, err := levelset.FastMarching(ctx, feature, seeds, fm.StoppingValue)
		if err != nil {
			return nil, errors.Wrap(err, mode.String())
		}
		out.Levels = arrival
		threshold = fm.Threshold

	case ShapeDetection, GeodesicActiveContour:
		if init == nil {
			var err error
			if init, err = levelset.DistanceThreshold(feature, seeds); err != nil {
				return nil, errors.Wrap(err, "initial level set")
			}
		}

		var res *levelset.Result
		var err error
		if mode == ShapeDetection {
			sd := e.Config.ShapeDetection
			res, err = levelset.ShapeDetection(ctx, init, feature, levelset.ShapeDetectionParams{
				MaxRMSError: sd.MaxRMSError,
				Propagation: sd.Propagation,
				Curvature:   sd.Curvature,
				Iterations:  sd.Iterations,
			})
			threshold = sd.Threshold
		} else {
			gac := e.Config.GeodesicActiveContour
			res, err = levelset.GeodesicActiveContour(ctx, init, feature, levelset.GACParams{
				Propagation: gac.Propagation,
				Curvature:   gac.Curvature,
				Advection:   gac.Advection,
				MaxRMSError: gac.MaxRMSError,
				Iterations:  gac.Iterations,
			})
			threshold = gac.Threshold
		}
		if err != nil {
			return nil, errors.Wrap(err, mode.String())
		}
		out.Levels = res.Phi
		out.Iterations = res.Iterations
		out.RMSChange = res.RMSChange
		out.Converged = res.Converged

	default:
		return nil, errors.Errorf("unknown segmentation mode %d", int(mode))
	}

	out.Threshold = threshold
	out.Mask = filters.BinaryThreshold(out.Levels, threshold.Low, threshold.High)
	out.Elapsed = time.Since(start)

	inside := 0
	for _, x := range out.Mask.Data {
		if x == filters.InsideValue {
			inside++
		}
	}
	e.Logger.WithFields(logrus.Fields{
		"mode":       mode.String(),
		"iterations": out.Iterations,
		"rms":        out.RMSChange,
		"converged":  out.Converged,
		"inside":     inside,
		"elapsed":    out.Elapsed.String(),
	}).Info("segmentation finished")

	return out, nil
}
