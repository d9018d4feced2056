package segmentation

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"liverseg/internal/models"
	"liverseg/pkg/config"
	"liverseg/pkg/filters"
	"liverseg/pkg/levelset"
	"liverseg/pkg/viewer"
	"liverseg/pkg/volumeio"
)

// Params holds the inputs of a single-slice segmentation.
type Params struct {
	// Volume is the source series
	Volume *models.Volume

	// SliceIndex selects the slice that is segmented
	SliceIndex int

	// Seeds are positions on that slice. Their Slice field is ignored.
	Seeds []models.Seed

	Config *config.Config

	// Modes to run, in order. Empty runs all of them.
	Modes []Mode

	// MaskDir receives slice_NNN.npy with the mask of MaskMode. Empty
	// disables mask output.
	MaskDir string

	// MaskMode selects the segmentation that is written to MaskDir
	MaskMode Mode

	// Thresholds, when set, chooses the binarisation range of every result
	// once it is computed, starting from the configured one
	Thresholds ThresholdFunc
}

// ThresholdFunc picks the inclusive range of levels that is segmented.
type ThresholdFunc func(mode Mode, levels *models.Volume, current config.Range) (config.Range, error)

// Pipeline segments one slice of a volume following the interactive
// workflow:
// 1. Extracting the slice
// 2. Denoising with the configured filter
// 3. Gradient magnitude and sigmoid mapping into a feature image
// 4. Fast marching from the seeds
// 5. Building the initial level set from the seed distance map or seed discs
// 6. Shape detection and geodesic active contour evolution
// 7. Writing the selected mask for later label map assembly
type Pipeline struct {
	params *Params
	engine *Engine
	logger *logrus.Logger

	slice    *models.Volume
	stages   *filters.Stages
	init     *models.Volume
	outcomes map[Mode]*Outcome
	maskPath string
}

// NewPipeline checks params and prepares a pipeline.
func NewPipeline(params *Params, logger *logrus.Logger) (*Pipeline, error) {
	if params.Volume == nil {
		return nil, errors.New("no volume given")
	}
	if params.SliceIndex < 0 || params.SliceIndex >= params.Volume.Depth {
		return nil, errors.Wrapf(models.ErrRegion, "slice %d of %d", params.SliceIndex, params.Volume.Depth)
	}
	if len(params.Seeds) == 0 {
		return nil, errors.Wrap(levelset.ErrSeed, "no seeds given")
	}

	engine, err := NewEngine(params.Config, logger)
	if err != nil {
		return nil, err
	}
	if len(params.Modes) == 0 {
		params.Modes = Modes
	}
	if params.MaskMode == 0 {
		params.MaskMode = params.Modes[len(params.Modes)-1]
	}

	return &Pipeline{
		params:   params,
		engine:   engine,
		logger:   logger,
		outcomes: make(map[Mode]*Outcome),
	}, nil
}

// Process runs the complete segmentation pipeline
func (p *Pipeline) Process(ctx context.Context) error {
	cfg := p.params.Config
	if cfg.Processing.SaveIntermediaryResults {
		if err := os.MkdirAll(cfg.Processing.IntermediaryDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create intermediary directory")
		}
	}
	start := time.Now()

	// Step 1: Extract the slice
	slice, err := p.params.Volume.Slice(p.params.SliceIndex)
	if err != nil {
		return errors.Wrap(err, "failed to extract slice")
	}
	p.slice = slice
	p.logger.WithFields(logrus.Fields{
		"slice":  p.params.SliceIndex,
		"width":  slice.Width,
		"height": slice.Height,
	}).Info("Step 1: extracted slice")
	p.saveIntermediaryResult("01_original", slice)

	// Step 2-3: Denoise and build the feature image
	denoiser, err := NewDenoiser(cfg)
	if err != nil {
		return err
	}
	p.stages, err = filters.FeatureImage(slice, filters.FeatureParams{
		Denoiser: denoiser,
		Sigma:    cfg.Feature.Sigma,
		K1:       cfg.Feature.K1,
		K2:       cfg.Feature.K2,
	})
	if err != nil {
		return errors.Wrap(err, "failed to build feature image")
	}
	summary := filters.Summarize(p.stages.Gradient)
	p.logger.WithFields(logrus.Fields{
		"filter":       denoiser.Name(),
		"gradient_min": summary.Min,
		"gradient_max": summary.Max,
		"k1":           cfg.Feature.K1,
		"k2":           cfg.Feature.K2,
	}).Info("Step 2: built feature image")
	p.saveIntermediaryResult("02_denoised", p.stages.Denoised)
	p.saveIntermediaryResult("03_gradient_magnitude", p.stages.Gradient)
	p.saveIntermediaryResult("04_feature", p.stages.Feature)

	seeds := make([]models.Seed, len(p.params.Seeds))
	for i, s := range p.params.Seeds {
		s.Slice = 0
		seeds[i] = s
	}

	// Step 4-6: Segment
	stage := 5
	for _, mode := range p.params.Modes {
		if err := ctx.Err(); err != nil {
			return err
		}

		var init *models.Volume
		if mode != FastMarching {
			if init, err = p.initialLevelSet(seeds, &stage); err != nil {
				return err
			}
		}

		outcome, err := p.engine.Run(ctx, mode, p.stages.Feature, seeds, init)
		if err != nil {
			return err
		}
		if p.params.Thresholds != nil {
			r, err := p.params.Thresholds(mode, outcome.Levels, outcome.Threshold)
			if err != nil {
				return errors.Wrapf(err, "%s threshold", mode)
			}
			if r.Low > r.High {
				return errors.Wrapf(config.ErrInvalid, "%s threshold [%g, %g] is empty", mode, r.Low, r.High)
			}
			outcome.Threshold = r
			outcome.Mask = filters.BinaryThreshold(outcome.Levels, r.Low, r.High)
			p.logger.WithFields(logrus.Fields{
				"mode": mode.String(),
				"low":  r.Low,
				"high": r.High,
			}).Info("applied threshold")
		}
		p.outcomes[mode] = outcome

		p.saveIntermediaryResult(fmt.Sprintf("%02d_%s", stage, mode), displayLevels(outcome.Levels))
		stage++
		if overlay, err := LabelOverlay(slice, outcome.Mask, filters.OutsideValue); err == nil {
			p.saveIntermediaryResult(fmt.Sprintf("%02d_%s_overlay", stage, mode), overlay)
		}
		stage++
	}

	// Step 7: Write the mask
	if p.params.MaskDir != "" {
		outcome, ok := p.outcomes[p.params.MaskMode]
		if !ok {
			return errors.Errorf("mask mode %s was not run", p.params.MaskMode)
		}
		p.maskPath = filepath.Join(p.params.MaskDir, fmt.Sprintf("slice_%03d.npy", p.params.SliceIndex))
		if err := volumeio.WriteMask(p.maskPath, slice.Height, slice.Width, LabelValues(outcome.Mask)); err != nil {
			return err
		}
		p.logger.WithFields(logrus.Fields{
			"mode": p.params.MaskMode.String(),
			"path": p.maskPath,
		}).Info("Step 7: wrote mask")
	}

	p.logger.WithField("elapsed", time.Since(start).String()).Info("segmentation pipeline finished")
	return nil
}

// initialLevelSet builds the configured initializer once and reuses it for
// every level set mode.
func (p *Pipeline) initialLevelSet(seeds []models.Seed, stage *int) (*models.Volume, error) {
	if p.init != nil {
		return p.init, nil
	}

	build := levelset.DistanceThreshold
	if p.params.Config.Initializer.Method == config.InitDisc {
		build = levelset.DiscStamp
	}
	init, err := build(p.slice, seeds)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build initial level set")
	}
	p.init = init
	p.logger.WithField("method", p.params.Config.Initializer.Method).Info("Step 5: built initial level set")
	p.saveIntermediaryResult(fmt.Sprintf("%02d_initial_level_set", *stage), init)
	*stage++
	return init, nil
}

// Slice returns the extracted slice, once Process has run.
func (p *Pipeline) Slice() *models.Volume { return p.slice }

// InitialLevelSet returns the level set shape detection and geodesic active
// contours started from, nil when only fast marching ran.
func (p *Pipeline) InitialLevelSet() *models.Volume { return p.init }

// Stages returns the feature pipeline images.
func (p *Pipeline) Stages() *filters.Stages { return p.stages }

// Outcome returns the result of mode, or nil when it was not run.
func (p *Pipeline) Outcome(mode Mode) *Outcome { return p.outcomes[mode] }

// MaskPath is the written mask file, empty when none was written.
func (p *Pipeline) MaskPath() string { return p.maskPath }

// LabelValues converts a BinaryThreshold mask to label values: 1 for the
// object and 0 for background.
func LabelValues(mask *models.Volume) []float64 {
	out := make([]float64, len(mask.Data))
	for i, x := range mask.Data {
		if x == filters.InsideValue {
			out[i] = 1
		}
	}
	return out
}

// displayLevels hides unreached fast marching voxels so they do not
// dominate the intensity range.
func displayLevels(v *models.Volume) *models.Volume {
	out := v.Clone()
	for i, x := range out.Data {
		if x >= levelset.LargeValue {
			out.Data[i] = math.NaN()
		}
	}
	return out
}

// saveIntermediaryResult saves an intermediary result during the segmentation process.
// Failures are logged and do not stop the pipeline.
func (p *Pipeline) saveIntermediaryResult(stage string, data interface{}) {
	cfg := p.params.Config.Processing
	if !cfg.SaveIntermediaryResults {
		return
	}

	stageDir := filepath.Join(cfg.IntermediaryDir, stage)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		p.logger.WithError(err).WithField("stage", stage).Warn("failed to create intermediary directory")
		return
	}

	var img image.Image
	switch v := data.(type) {
	case image.Image:
		img = v
	case *models.Volume:
		img = viewer.GrayImage(v)
	default:
		p.logger.WithField("stage", stage).Warnf("cannot save intermediary result of type %T", data)
		return
	}

	filename := filepath.Join(stageDir, fmt.Sprintf("%03d.png", p.params.SliceIndex))
	if err := imaging.Save(img, filename); err != nil {
		p.logger.WithError(err).WithField("stage", stage).Warn("failed to save intermediary result")
		return
	}
	p.logger.WithField("file", filename).Debug("saved intermediary result")
}
