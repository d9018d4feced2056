package levelset

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"

	"liverseg/internal/models"
)

// reinitInterval is the number of iterations between two redistancing
// passes of the level set.
const reinitInterval = 10

// ErrParameter is wrapped when an evolution parameter is out of range.
var ErrParameter = errors.New("invalid level set parameter")

// ShapeDetectionParams configures ShapeDetection.
type ShapeDetectionParams struct {
	MaxRMSError float64
	Propagation float64
	Curvature   float64
	Iterations  int
}

// GACParams configures GeodesicActiveContour.
type GACParams struct {
	Propagation float64
	Curvature   float64
	Advection   float64
	MaxRMSError float64
	Iterations  int
}

// Result is the outcome of a level set evolution. Phi is negative inside
// the segmented object.
type Result struct {
	Phi        *models.Volume
	Iterations int
	RMSChange  float64
	Converged  bool
}

type terms struct {
	propagation float64
	curvature   float64
	advection   float64
}

// ShapeDetection evolves init under propagation and curvature forces, both
// scaled by the feature image. Fronts slow down where feature values are
// low.
func ShapeDetection(ctx context.Context, init, feature *models.Volume, p ShapeDetectionParams) (*Result, error) {
	if p.Curvature < 0 {
		return nil, errors.Wrapf(ErrParameter, "curvature scaling must be >= 0, got %g", p.Curvature)
	}
	t := terms{propagation: p.Propagation, curvature: p.Curvature}
	return evolve(ctx, init, feature, t, p.MaxRMSError, p.Iterations)
}

// GeodesicActiveContour is ShapeDetection plus an advection term that pulls
// the contour towards minima of the feature image.
func GeodesicActiveContour(ctx context.Context, init, feature *models.Volume, p GACParams) (*Result, error) {
	if p.Curvature < 0 {
		return nil, errors.Wrapf(ErrParameter, "curvature scaling must be >= 0, got %g", p.Curvature)
	}
	if p.Advection < 0 {
		return nil, errors.Wrapf(ErrParameter, "advection scaling must be >= 0, got %g", p.Advection)
	}
	t := terms{propagation: p.Propagation, curvature: p.Curvature, advection: p.Advection}
	return evolve(ctx, init, feature, t, p.MaxRMSError, p.Iterations)
}

func evolve(ctx context.Context, init, feature *models.Volume, t terms, maxRMS float64, iterations int) (*Result, error) {
	if init == nil || feature == nil {
		return nil, errors.New("initial level set and feature image are required")
	}
	if init.Width != feature.Width || init.Height != feature.Height || init.Depth != feature.Depth {
		return nil, errors.Wrapf(ErrShape, "level set is %dx%dx%d, feature image is %dx%dx%d",
			init.Width, init.Height, init.Depth, feature.Width, feature.Height, feature.Depth)
	}
	if iterations < 1 {
		return nil, errors.Wrapf(ErrParameter, "iterations must be >= 1, got %d", iterations)
	}
	if !(maxRMS > 0) {
		return nil, errors.Wrapf(ErrParameter, "maximum RMS error must be > 0, got %g", maxRMS)
	}

	g := newGrid(init)
	phi := g.reinitialize(init.Data)
	var adv *[3][]float64
	if t.advection != 0 {
		field := g.advectionField(feature.Data, t.advection)
		adv = &field
	}
	dt := g.timeStep(feature.Data, adv, t)
	band := 2 * g.hmax()

	res := &Result{}
	next := make([]float64, len(phi))
	for it := 1; it <= iterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var sum float64
		var n int
		for idx := range phi {
			delta := dt * g.rate(phi, feature.Data, adv, t, idx)
			next[idx] = phi[idx] + delta
			if math.Abs(phi[idx]) <= band {
				sum += delta * delta
				n++
			}
		}
		phi, next = next, phi

		res.Iterations = it
		res.RMSChange = 0
		if n > 0 {
			res.RMSChange = math.Sqrt(sum / float64(n))
		}
		if res.RMSChange < maxRMS {
			res.Converged = true
			break
		}
		if it%reinitInterval == 0 {
			phi = g.reinitialize(phi)
		}
	}

	res.Phi = init.NewLike()
	copy(res.Phi.Data, phi)
	return res, nil
}

// grid holds the index arithmetic shared by the finite difference stencils.
type grid struct {
	dims    [3]int
	strides [3]int
	h       [3]float64
}

func newGrid(v *models.Volume) grid {
	g := grid{
		dims:    [3]int{v.Width, v.Height, v.Depth},
		strides: [3]int{1, v.Width, v.Width * v.Height},
	}
	for a := 0; a < 3; a++ {
		g.h[a] = v.Geometry.Spacing[a]
		if g.h[a] <= 0 {
			g.h[a] = 1
		}
	}
	return g
}

func (g grid) coords(idx int) [3]int {
	return [3]int{idx % g.dims[0], (idx / g.strides[1]) % g.dims[1], idx / g.strides[2]}
}

// at returns the index of pos shifted by shift, clamped to the grid.
func (g grid) at(pos, shift [3]int) int {
	idx := 0
	for a := 0; a < 3; a++ {
		p := pos[a] + shift[a]
		if p < 0 {
			p = 0
		} else if p >= g.dims[a] {
			p = g.dims[a] - 1
		}
		idx += p * g.strides[a]
	}
	return idx
}

func (g grid) hmax() float64 {
	return math.Max(g.h[0], math.Max(g.h[1], g.h[2]))
}

func (g grid) activeAxes() int {
	n := 0
	for a := 0; a < 3; a++ {
		if g.dims[a] > 1 {
			n++
		}
	}
	return max(n, 1)
}

func unit(a int) [3]int {
	var s [3]int
	s[a] = 1
	return s
}

// rate returns d(phi)/dt at idx.
func (g grid) rate(phi, speed []float64, adv *[3][]float64, t terms, idx int) float64 {
	pos := g.coords(idx)
	var dm, dp, dc [3]float64
	for a := 0; a < 3; a++ {
		e := unit(a)
		lo := phi[g.at(pos, [3]int{-e[0], -e[1], -e[2]})]
		hi := phi[g.at(pos, e)]
		dm[a] = (phi[idx] - lo) / g.h[a]
		dp[a] = (hi - phi[idx]) / g.h[a]
		dc[a] = (hi - lo) / (2 * g.h[a])
	}

	s := speed[idx]
	var r float64
	if f := t.propagation * s; f != 0 {
		r -= f * upwindNorm(dm, dp, f > 0)
	}
	if t.curvature != 0 && s != 0 {
		r += t.curvature * s * g.curvature(phi, pos, idx, dc)
	}
	if adv != nil {
		for a := 0; a < 3; a++ {
			u := adv[a][idx]
			if u > 0 {
				r -= u * dm[a]
			} else {
				r -= u * dp[a]
			}
		}
	}
	return r
}

// upwindNorm is the Osher-Sethian gradient magnitude for a front moving
// outward (expanding) or inward.
func upwindNorm(dm, dp [3]float64, expanding bool) float64 {
	var sum float64
	for a := 0; a < 3; a++ {
		var back, fwd float64
		if expanding {
			back, fwd = math.Max(dm[a], 0), math.Min(dp[a], 0)
		} else {
			back, fwd = math.Min(dm[a], 0), math.Max(dp[a], 0)
		}
		sum += back*back + fwd*fwd
	}
	return math.Sqrt(sum)
}

// curvature returns mean curvature times |grad phi| from central
// differences.
func (g grid) curvature(phi []float64, pos [3]int, idx int, d [3]float64) float64 {
	den := d[0]*d[0] + d[1]*d[1] + d[2]*d[2]
	if den < 1e-12 {
		return 0
	}

	var second [3][3]float64
	for a := 0; a < 3; a++ {
		e := unit(a)
		lo := phi[g.at(pos, [3]int{-e[0], -e[1], -e[2]})]
		hi := phi[g.at(pos, e)]
		second[a][a] = (hi - 2*phi[idx] + lo) / (g.h[a] * g.h[a])
	}
	for a := 0; a < 3; a++ {
		for b := a + 1; b < 3; b++ {
			var pp, pm, mp, mm [3]int
			pp[a], pp[b] = 1, 1
			pm[a], pm[b] = 1, -1
			mp[a], mp[b] = -1, 1
			mm[a], mm[b] = -1, -1
			v := phi[g.at(pos, pp)] - phi[g.at(pos, pm)] - phi[g.at(pos, mp)] + phi[g.at(pos, mm)]
			second[a][b] = v / (4 * g.h[a] * g.h[b])
		}
	}

	num := (d[1]*d[1]+d[2]*d[2])*second[0][0] +
		(d[0]*d[0]+d[2]*d[2])*second[1][1] +
		(d[0]*d[0]+d[1]*d[1])*second[2][2] -
		2*(d[0]*d[1]*second[0][1]+d[0]*d[2]*second[0][2]+d[1]*d[2]*second[1][2])
	return num / den
}

// advectionField returns the velocity -scale * grad(feature), which points
// towards feature minima.
func (g grid) advectionField(feature []float64, scale float64) [3][]float64 {
	var field [3][]float64
	for a := 0; a < 3; a++ {
		field[a] = make([]float64, len(feature))
	}
	for idx := range feature {
		pos := g.coords(idx)
		for a := 0; a < 3; a++ {
			e := unit(a)
			lo := feature[g.at(pos, [3]int{-e[0], -e[1], -e[2]})]
			hi := feature[g.at(pos, e)]
			field[a][idx] = -scale * (hi - lo) / (2 * g.h[a])
		}
	}
	return field
}

// timeStep picks a step satisfying the CFL condition of the hyperbolic terms
// and the stability bound of the explicit curvature term.
func (g grid) timeStep(speed []float64, adv *[3][]float64, t terms) float64 {
	hmin := math.Min(g.h[0], math.Min(g.h[1], g.h[2]))

	var smax float64
	for _, s := range speed {
		smax = math.Max(smax, math.Abs(s))
	}

	total := math.Abs(t.propagation) * smax / hmin
	if adv != nil {
		for a := 0; a < 3; a++ {
			var umax float64
			for _, u := range adv[a] {
				umax = math.Max(umax, math.Abs(u))
			}
			total += umax / g.h[a]
		}
	}
	total += 2 * float64(g.activeAxes()) * t.curvature * smax / (hmin * hmin)

	if total == 0 {
		return 1
	}
	return 0.5 / total
}

// reinitialize rebuilds phi as a signed distance to its zero level set,
// keeping the sign of every voxel. Zero crossings are located by linear
// interpolation along grid edges.
func (g grid) reinitialize(phi []float64) []float64 {
	var pts Points3D
	for idx := range phi {
		pos := g.coords(idx)
		for a := 0; a < 3; a++ {
			if pos[a]+1 >= g.dims[a] {
				continue
			}
			pa, pb := phi[idx], phi[idx+g.strides[a]]
			if (pa <= 0) == (pb <= 0) {
				continue
			}
			p := g.point(pos)
			off := pa / (pa - pb) * g.h[a]
			switch a {
			case 0:
				p.X += off
			case 1:
				p.Y += off
			case 2:
				p.Z += off
			}
			pts = append(pts, p)
		}
	}

	out := make([]float64, len(phi))
	if len(pts) == 0 {
		copy(out, phi)
		return out
	}

	tree := kdtree.New(pts, false)
	for idx := range phi {
		_, d2 := tree.Nearest(g.point(g.coords(idx)))
		d := math.Sqrt(d2)
		if phi[idx] <= 0 {
			d = -d
		}
		out[idx] = d
	}
	return out
}

func (g grid) point(pos [3]int) Point3D {
	return Point3D{
		X: float64(pos[0]) * g.h[0],
		Y: float64(pos[1]) * g.h[1],
		Z: float64(pos[2]) * g.h[2],
	}
}
