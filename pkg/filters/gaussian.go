package filters

import (
	"math"

	"github.com/pkg/errors"

	"liverseg/internal/models"
)

// RecursiveGaussian is a separable IIR approximation of Gaussian smoothing
// (Young & van Vliet). The filter runs along x, then y, then z. Sigma is in
// physical units and is converted per axis using the voxel spacing.
type RecursiveGaussian struct {
	Sigma float64
}

func (g RecursiveGaussian) Name() string { return "recursive gaussian" }

func (g RecursiveGaussian) Validate() error {
	if !(g.Sigma > 0) {
		return errors.Wrapf(ErrParameter, "gaussian sigma must be > 0, got %g", g.Sigma)
	}
	return nil
}

func (g RecursiveGaussian) Apply(v *models.Volume) (*models.Volume, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	out := v.Clone()
	for axis := 0; axis < 3; axis++ {
		smoothAxis(out, axis, g.Sigma)
	}
	return out, nil
}

// axisLayout returns the length of an axis, the stride between consecutive
// samples along it, and the number of lines running parallel to it.
func axisLayout(v *models.Volume, axis int) (n, stride int, starts []int) {
	switch axis {
	case 0:
		n, stride = v.Width, 1
		for z := 0; z < v.Depth; z++ {
			for y := 0; y < v.Height; y++ {
				starts = append(starts, v.Index(0, y, z))
			}
		}
	case 1:
		n, stride = v.Height, v.Width
		for z := 0; z < v.Depth; z++ {
			for x := 0; x < v.Width; x++ {
				starts = append(starts, v.Index(x, 0, z))
			}
		}
	default:
		n, stride = v.Depth, v.Width*v.Height
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				starts = append(starts, v.Index(x, y, 0))
			}
		}
	}
	return n, stride, starts
}

// smoothAxis filters v in place along one axis. Axes of length 1 and
// sub-half-pixel sigmas are left untouched.
func smoothAxis(v *models.Volume, axis int, sigma float64) {
	n, stride, starts := axisLayout(v, axis)
	if n < 2 {
		return
	}

	spacing := v.Geometry.Spacing[axis]
	if spacing <= 0 {
		spacing = 1
	}
	coeff, ok := youngVanVliet(sigma / spacing)
	if !ok {
		return
	}

	line := make([]float64, n)
	work := make([]float64, n)
	for _, start := range starts {
		for i := 0; i < n; i++ {
			line[i] = v.Data[start+i*stride]
		}
		coeff.filter(line, work)
		for i := 0; i < n; i++ {
			v.Data[start+i*stride] = line[i]
		}
	}
}

type iirCoefficients struct {
	b0, b1, b2, b3, B float64
}

func youngVanVliet(sigma float64) (iirCoefficients, bool) {
	var q float64
	switch {
	case sigma >= 2.5:
		q = 0.98711*sigma - 0.96330
	case sigma >= 0.5:
		q = 3.97156 - 4.14554*math.Sqrt(1-0.26891*sigma)
	default:
		return iirCoefficients{}, false
	}

	q2, q3 := q*q, q*q*q
	c := iirCoefficients{
		b0: 1.57825 + 2.44413*q + 1.4281*q2 + 0.422205*q3,
		b1: 2.44413*q + 2.85619*q2 + 1.26661*q3,
		b2: -(1.4281*q2 + 1.26661*q3),
		b3: 0.422205 * q3,
	}
	c.B = 1 - (c.b1+c.b2+c.b3)/c.b0
	return c, true
}

// filter runs the causal then anti-causal pass. Borders are extended with the
// edge value so constant signals stay constant.
func (c iirCoefficients) filter(line, work []float64) {
	n := len(line)

	w1, w2, w3 := line[0], line[0], line[0]
	for i := 0; i < n; i++ {
		w := c.B*line[i] + (c.b1*w1+c.b2*w2+c.b3*w3)/c.b0
		work[i] = w
		w3, w2, w1 = w2, w1, w
	}

	y1, y2, y3 := work[n-1], work[n-1], work[n-1]
	for i := n - 1; i >= 0; i-- {
		y := c.B*work[i] + (c.b1*y1+c.b2*y2+c.b3*y3)/c.b0
		line[i] = y
		y3, y2, y1 = y2, y1, y
	}
}
