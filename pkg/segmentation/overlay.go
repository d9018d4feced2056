package segmentation

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"liverseg/internal/models"
	"liverseg/pkg/config"
	"liverseg/pkg/filters"
	"liverseg/pkg/viewer"
)

// overlayOpacity is the weight of the label colour in LabelOverlay.
const overlayOpacity = 0.5

// labelColors is cycled by label value.
var labelColors = []color.NRGBA{
	{255, 0, 0, 255},
	{0, 205, 0, 255},
	{0, 0, 255, 255},
	{0, 255, 255, 255},
	{255, 0, 255, 255},
	{255, 127, 0, 255},
}

// LabelOverlay blends every non-background label of mask over the
// grayscale base slice. Both must be single slices of the same size.
func LabelOverlay(base, mask *models.Volume, background float64) (image.Image, error) {
	if base.Width != mask.Width || base.Height != mask.Height || base.Depth != 1 || mask.Depth != 1 {
		return nil, errors.Errorf("overlay needs two slices of equal size, got %dx%dx%d and %dx%dx%d",
			base.Width, base.Height, base.Depth, mask.Width, mask.Height, mask.Depth)
	}

	gray := viewer.GrayImage(base)
	layer := image.NewNRGBA(gray.Bounds())
	n := len(labelColors)
	for y := 0; y < base.Height; y++ {
		for x := 0; x < base.Width; x++ {
			label := mask.At(x, y, 0)
			if label == background || math.IsNaN(label) {
				continue
			}
			// label 1 takes the first colour
			layer.SetNRGBA(x, y, labelColors[(int(math.Abs(label))+n-1)%n])
		}
	}
	return imaging.Overlay(gray, layer, image.Point{}, overlayOpacity), nil
}

// NewDenoiser builds the denoising stage selected by cfg.Filter.Method.
func NewDenoiser(cfg *config.Config) (filters.Denoiser, error) {
	workers := cfg.Processing.Workers
	switch cfg.Filter.Method {
	case config.FilterAnisotropic:
		a := cfg.Filter.Anisotropic
		return filters.AnisotropicDiffusion{
			TimeStep:    a.TimeStep,
			Conductance: a.Conductance,
			Iterations:  a.Iterations,
			Workers:     workers,
		}, nil
	case config.FilterGaussian:
		return filters.RecursiveGaussian{Sigma: cfg.Filter.Gaussian.Sigma}, nil
	case config.FilterMedian:
		return filters.Median{Radius: cfg.Filter.Median.Radius, Workers: workers}, nil
	}
	return nil, errors.Wrapf(config.ErrInvalid, "filter.method must be 1, 2 or 3, got %d", cfg.Filter.Method)
}
