package filters

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"liverseg/internal/models"
)

// MultiScaleSigmas returns steps scales equally spaced from lo to hi.
func MultiScaleSigmas(lo, hi float64, steps int) []float64 {
	if steps <= 1 || hi == lo {
		return []float64{lo}
	}
	sigmas := make([]float64, steps)
	for i := range sigmas {
		sigmas[i] = lo + float64(i)*(hi-lo)/float64(steps-1)
	}
	sigmas[steps-1] = hi
	return sigmas
}

// Frangi is the multiscale Hessian objectness measure for line-like
// structures. Eigenvalues are ordered by magnitude; A and B are the plate
// and blob ratios, S the Frobenius norm of the Hessian.
type Frangi struct {
	Sigmas []float64

	Alpha float64 // sensitivity to the plate ratio
	Beta  float64 // sensitivity to the blob ratio
	Gamma float64 // sensitivity to second order structure

	// BrightObject looks for bright vessels on a dark background
	BrightObject bool

	// ScaleObjectness multiplies the measure by the largest eigenvalue
	// magnitude
	ScaleObjectness bool

	Workers int
}

// DefaultFrangi returns the vessel enhancement settings for contrast
// enhanced liver CT: bright vessels at scales 1 to 3.
func DefaultFrangi() Frangi {
	return Frangi{
		Sigmas:          MultiScaleSigmas(1, 3, 3),
		Alpha:           0.5,
		Beta:            0.5,
		Gamma:           10,
		BrightObject:    true,
		ScaleObjectness: true,
	}
}

func (f Frangi) Name() string { return "frangi" }

func (f Frangi) Validate() error {
	if err := checkSigmas(f.Sigmas); err != nil {
		return err
	}
	if !(f.Alpha > 0) || !(f.Beta > 0) || !(f.Gamma > 0) {
		return errors.Wrapf(ErrParameter, "frangi alpha, beta and gamma must be > 0, got %g, %g, %g", f.Alpha, f.Beta, f.Gamma)
	}
	return nil
}

// Apply keeps the maximum response over all scales.
func (f Frangi) Apply(v *models.Volume) (*models.Volume, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return hessianMaxResponse(v, f.Sigmas, f.Workers, f.measure)
}

func (f Frangi) measure(eig []float64) float64 {
	n := len(eig)
	var sorted, abs [3]float64
	copy(sorted[:], eig)
	for i := 1; i < n; i++ {
		for j := i; j > 0 && math.Abs(sorted[j]) < math.Abs(sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	norm := 0.0
	for i := 0; i < n; i++ {
		if i > 0 && (f.BrightObject && sorted[i] > 0 || !f.BrightObject && sorted[i] < 0) {
			return 0
		}
		abs[i] = math.Abs(sorted[i])
		norm += sorted[i] * sorted[i]
	}

	m := 1.0
	if n == 3 {
		rA := math.MaxFloat64
		if abs[2] > 0 {
			rA = abs[1] / abs[2]
		}
		m *= 1 - math.Exp(-0.5*rA*rA/(f.Alpha*f.Alpha))
	}

	rB := math.MaxFloat64
	den := 1.0
	for i := 1; i < n; i++ {
		den *= abs[i]
	}
	if den > 0 {
		rB = abs[0] / math.Pow(den, 1/float64(n-1))
	}
	m *= math.Exp(-0.5 * rB * rB / (f.Beta * f.Beta))
	m *= 1 - math.Exp(-0.5*norm/(f.Gamma*f.Gamma))

	if f.ScaleObjectness {
		m *= abs[n-1]
	}
	return m
}

// Sato is the multiscale line filter on ascending Hessian eigenvalues.
// Alpha1 weighs a non-positive largest eigenvalue and Alpha2 a positive
// one.
type Sato struct {
	Sigmas  []float64
	Alpha1  float64
	Alpha2  float64
	Workers int
}

// DefaultSato returns the line filter at scales 1 to 3.
func DefaultSato() Sato {
	return Sato{Sigmas: MultiScaleSigmas(1, 3, 3), Alpha1: 0.5, Alpha2: 2}
}

func (s Sato) Name() string { return "sato" }

func (s Sato) Validate() error {
	if err := checkSigmas(s.Sigmas); err != nil {
		return err
	}
	if !(s.Alpha1 > 0) || !(s.Alpha2 > 0) {
		return errors.Wrapf(ErrParameter, "sato alpha1 and alpha2 must be > 0, got %g, %g", s.Alpha1, s.Alpha2)
	}
	return nil
}

// Apply keeps the maximum response over all scales.
func (s Sato) Apply(v *models.Volume) (*models.Volume, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return hessianMaxResponse(v, s.Sigmas, s.Workers, s.measure)
}

func (s Sato) measure(eig []float64) float64 {
	n := len(eig)
	scale := -eig[n-2]
	if !(scale > 0) {
		return 0
	}
	last := eig[n-1]
	alpha := s.Alpha1
	if last > 0 {
		alpha = s.Alpha2
	}
	r := last / (alpha * scale)
	return scale * math.Exp(-0.5*r*r)
}

func checkSigmas(sigmas []float64) error {
	if len(sigmas) == 0 {
		return errors.Wrap(ErrParameter, "at least one scale is required")
	}
	for _, sigma := range sigmas {
		if !(sigma > 0) {
			return errors.Wrapf(ErrParameter, "scales must be > 0, got %g", sigma)
		}
	}
	return nil
}

// hessianMaxResponse evaluates measure on the ascending eigenvalues of the
// scale normalised Hessian of v smoothed at every sigma, and keeps the
// largest value per voxel. Only axes longer than one voxel take part.
func hessianMaxResponse(v *models.Volume, sigmas []float64, workers int, measure func(eig []float64) float64) (*models.Volume, error) {
	axes := activeAxes(v)
	if len(axes) < 2 {
		return nil, errors.Wrap(ErrParameter, "the Hessian needs an image with at least two axes")
	}
	n := len(axes)

	out := v.NewLike()
	for i, sigma := range sigmas {
		smoothed, err := RecursiveGaussian{Sigma: sigma}.Apply(v)
		if err != nil {
			return nil, err
		}
		norm := sigma * sigma

		forEachSlice(v.Depth, workers, func(z int) {
			h := mat.NewSymDense(n, nil)
			values := make([]float64, n)
			var eig mat.EigenSym
			for y := 0; y < v.Height; y++ {
				for x := 0; x < v.Width; x++ {
					for a := 0; a < n; a++ {
						for b := a; b < n; b++ {
							h.SetSym(a, b, norm*secondDerivative(smoothed, x, y, z, axes[a], axes[b]))
						}
					}
					r := 0.0
					if eig.Factorize(h, false) {
						r = measure(eig.Values(values))
					}
					if i == 0 || r > out.At(x, y, z) {
						out.Set(x, y, z, r)
					}
				}
			}
		})
	}
	return out, nil
}

// secondDerivative is the central difference estimate of d2v/da db in
// physical units. Borders are clamped.
func secondDerivative(v *models.Volume, x, y, z, a, b int) float64 {
	at := func(da, db int) float64 {
		p := [3]int{x, y, z}
		p[a] += da
		p[b] += db
		for axis, size := range [3]int{v.Width, v.Height, v.Depth} {
			p[axis] = max(0, min(size-1, p[axis]))
		}
		return v.At(p[0], p[1], p[2])
	}

	sa, sb := v.Geometry.Spacing[a], v.Geometry.Spacing[b]
	if sa <= 0 {
		sa = 1
	}
	if sb <= 0 {
		sb = 1
	}
	if a == b {
		return (at(1, 0) - 2*at(0, 0) + at(-1, 0)) / (sa * sa)
	}
	return (at(1, 1) - at(1, -1) - at(-1, 1) + at(-1, -1)) / (4 * sa * sb)
}
