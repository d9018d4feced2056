package filters

import (
	"math"

	"github.com/pkg/errors"

	"liverseg/internal/models"
)

// GradientMagnitude estimates edge strength as the magnitude of the gradient
// of the recursively Gaussian smoothed image. Derivatives are taken in
// physical units.
func GradientMagnitude(v *models.Volume, sigma float64) (*models.Volume, error) {
	if !(sigma > 0) {
		return nil, errors.Wrapf(ErrParameter, "gradient sigma must be > 0, got %g", sigma)
	}

	smoothed, err := RecursiveGaussian{Sigma: sigma}.Apply(v)
	if err != nil {
		return nil, err
	}

	axes := activeAxes(v)
	out := v.NewLike()
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				sum := 0.0
				for _, axis := range axes {
					d := derivative(smoothed, x, y, z, axis)
					sum += d * d
				}
				out.Set(x, y, z, math.Sqrt(sum))
			}
		}
	}
	return out, nil
}

// derivative is a central difference, one-sided at the borders.
func derivative(v *models.Volume, x, y, z, axis int) float64 {
	spacing := v.Geometry.Spacing[axis]
	if spacing <= 0 {
		spacing = 1
	}

	pos := [3]int{x, y, z}
	n := [3]int{v.Width, v.Height, v.Depth}[axis]
	i := pos[axis]

	lo, hi := i-1, i+1
	if lo < 0 {
		lo = i
	}
	if hi >= n {
		hi = i
	}
	if lo == hi {
		return 0
	}

	a, b := pos, pos
	a[axis], b[axis] = lo, hi
	return (v.At(b[0], b[1], b[2]) - v.At(a[0], a[1], a[2])) / (float64(hi-lo) * spacing)
}
