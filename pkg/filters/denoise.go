// Package filters builds the feature image that drives level-set evolution:
// one of three interchangeable denoisers, a gradient magnitude edge map and a
// sigmoid mapping into [0, 1]. Every filter is deterministic.
package filters

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"liverseg/internal/models"
)

// ErrParameter is wrapped by every invalid filter parameter.
var ErrParameter = errors.New("invalid filter parameter")

// Denoiser is one smoothing stage. Implementations never modify their input.
type Denoiser interface {
	Name() string
	Validate() error
	Apply(v *models.Volume) (*models.Volume, error)
}

// AnisotropicDiffusion smooths homogeneous regions while keeping edges whose
// gradient is large relative to Conductance times the mean gradient.
type AnisotropicDiffusion struct {
	TimeStep    float64
	Conductance float64
	Iterations  int

	// Workers bounds concurrent slice updates; 0 uses every CPU
	Workers int
}

func (a AnisotropicDiffusion) Name() string { return "anisotropic diffusion" }

func (a AnisotropicDiffusion) Validate() error {
	if !(a.TimeStep > 0) {
		return errors.Wrapf(ErrParameter, "time step must be > 0, got %g", a.TimeStep)
	}
	if !(a.Conductance > 0) {
		return errors.Wrapf(ErrParameter, "conductance must be > 0, got %g", a.Conductance)
	}
	if a.Iterations < 1 {
		return errors.Wrapf(ErrParameter, "iterations must be >= 1, got %d", a.Iterations)
	}
	return nil
}

func (a AnisotropicDiffusion) Apply(v *models.Volume) (*models.Volume, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	cur := v.Clone()
	next := v.NewLike()
	axes := activeAxes(v)

	for it := 0; it < a.Iterations; it++ {
		k := a.Conductance * meanGradient(cur, axes)
		if k == 0 {
			break
		}
		twoK2 := 2 * k * k

		src := cur
		forEachSlice(v.Depth, a.Workers, func(z int) {
			for y := 0; y < src.Height; y++ {
				for x := 0; x < src.Width; x++ {
					center := src.At(x, y, z)
					flux := 0.0
					for _, axis := range axes {
						fwd := neighbour(src, x, y, z, axis, 1) - center
						bwd := center - neighbour(src, x, y, z, axis, -1)
						flux += math.Exp(-fwd*fwd/twoK2)*fwd - math.Exp(-bwd*bwd/twoK2)*bwd
					}
					next.Set(x, y, z, center+a.TimeStep*flux)
				}
			}
		})
		cur, next = next, cur
	}

	return cur, nil
}

// Median replaces each voxel by the median of its (2r+1)^d neighbourhood.
// Borders replicate the edge voxel.
type Median struct {
	Radius  int
	Workers int
}

func (m Median) Name() string { return "median" }

func (m Median) Validate() error {
	if m.Radius < 1 {
		return errors.Wrapf(ErrParameter, "median radius must be >= 1, got %d", m.Radius)
	}
	return nil
}

func (m Median) Apply(v *models.Volume) (*models.Volume, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	out := v.NewLike()
	r := m.Radius
	rz := r
	if v.Depth == 1 {
		rz = 0
	}

	var firstErr error
	errs := make([]error, v.Depth)
	forEachSlice(v.Depth, m.Workers, func(z int) {
		window := make(stats.Float64Data, 0, (2*r+1)*(2*r+1)*(2*rz+1))
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				window = window[:0]
				for dz := -rz; dz <= rz; dz++ {
					zz := clamp(z+dz, v.Depth)
					for dy := -r; dy <= r; dy++ {
						yy := clamp(y+dy, v.Height)
						for dx := -r; dx <= r; dx++ {
							window = append(window, v.At(clamp(x+dx, v.Width), yy, zz))
						}
					}
				}
				med, err := stats.Median(window)
				if err != nil {
					errs[z] = err
					return
				}
				out.Set(x, y, z, med)
			}
		}
	})

	for _, err := range errs {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, errors.Wrap(firstErr, "median filter")
	}
	return out, nil
}

// activeAxes lists the axes with more than one sample.
func activeAxes(v *models.Volume) []int {
	var axes []int
	for axis, n := range []int{v.Width, v.Height, v.Depth} {
		if n > 1 {
			axes = append(axes, axis)
		}
	}
	return axes
}

// neighbour returns the voxel one step along axis in direction dir, or the
// voxel itself at the border (zero flux).
func neighbour(v *models.Volume, x, y, z, axis, dir int) float64 {
	switch axis {
	case 0:
		x += dir
	case 1:
		y += dir
	default:
		z += dir
	}
	if !v.Contains(x, y, z) {
		return v.At(clamp(x, v.Width), clamp(y, v.Height), clamp(z, v.Depth))
	}
	return v.At(x, y, z)
}

func meanGradient(v *models.Volume, axes []int) float64 {
	if v.Len() == 0 {
		return 0
	}
	sum := 0.0
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				g := 0.0
				for _, axis := range axes {
					d := (neighbour(v, x, y, z, axis, 1) - neighbour(v, x, y, z, axis, -1)) / 2
					g += d * d
				}
				sum += math.Sqrt(g)
			}
		}
	}
	return sum / float64(v.Len())
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
