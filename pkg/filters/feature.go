package filters

import (
	"github.com/pkg/errors"

	"liverseg/internal/models"
)

// FeatureParams configures the full feature image pipeline.
type FeatureParams struct {
	Denoiser Denoiser
	Sigma    float64
	K1, K2   float64
}

// Stages holds every intermediate image produced by FeatureImage so callers
// can inspect or save them.
type Stages struct {
	Denoised *models.Volume
	Gradient *models.Volume
	Feature  *models.Volume
}

// FeatureImage runs denoise, gradient magnitude and sigmoid in order.
func FeatureImage(v *models.Volume, p FeatureParams) (*Stages, error) {
	if p.Denoiser == nil {
		return nil, errors.Wrap(ErrParameter, "no denoiser selected")
	}

	denoised, err := p.Denoiser.Apply(v)
	if err != nil {
		return nil, errors.Wrap(err, p.Denoiser.Name())
	}

	gradient, err := GradientMagnitude(denoised, p.Sigma)
	if err != nil {
		return nil, errors.Wrap(err, "gradient magnitude")
	}

	return &Stages{
		Denoised: denoised,
		Gradient: gradient,
		Feature:  Sigmoid(gradient, p.K1, p.K2),
	}, nil
}
