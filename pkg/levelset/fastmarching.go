package levelset

import (
	"container/heap"
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"

	"liverseg/internal/models"
)

// LargeValue marks voxels the front never reached.
const LargeValue = math.MaxFloat32

// ErrShape is wrapped when two grids that must align differ in size.
var ErrShape = errors.New("grid size mismatch")

type node struct {
	idx  int
	time float64
}

// frontHeap is a min-heap on arrival time. Entries are never updated in
// place; stale ones are skipped when popped.
type frontHeap []node

func (h frontHeap) Len() int            { return len(h) }
func (h frontHeap) Less(i, j int) bool  { return h[i].time < h[j].time }
func (h frontHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *frontHeap) Push(x interface{}) { *h = append(*h, x.(node)) }
func (h *frontHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// FastMarching propagates a front from the seeds through speed, solving
// |grad T| * speed = 1 with first-order upwind differences. Seeds start at
// time 0. Propagation ends once the next arrival time exceeds stop; voxels
// that were not frozen by then hold LargeValue. Voxels with non-positive
// speed are never entered.
func FastMarching(ctx context.Context, speed *models.Volume, seeds []models.Seed, stop float64) (*models.Volume, error) {
	if err := checkSeeds(speed, seeds); err != nil {
		return nil, err
	}
	if !(stop > 0) {
		return nil, errors.Errorf("stopping value must be > 0, got %g", stop)
	}

	out := speed.NewLike()
	for i := range out.Data {
		out.Data[i] = LargeValue
	}
	frozen := make([]bool, out.Len())
	tentative := make([]float64, out.Len())
	for i := range tentative {
		tentative[i] = math.Inf(1)
	}

	h := &frontHeap{}
	for _, s := range seeds {
		idx := speed.Index(s.Col, s.Row, s.Slice)
		tentative[idx] = 0
		heap.Push(h, node{idx: idx, time: 0})
	}

	dims := [3]int{speed.Width, speed.Height, speed.Depth}
	strides := [3]int{1, speed.Width, speed.Width * speed.Height}
	spacing := speed.Geometry.Spacing

	popped := 0
	for h.Len() > 0 {
		n := heap.Pop(h).(node)
		if frozen[n.idx] || n.time > tentative[n.idx] {
			continue
		}
		if n.time > stop {
			break
		}
		frozen[n.idx] = true
		out.Data[n.idx] = n.time

		popped++
		if popped%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		pos := [3]int{n.idx % dims[0], (n.idx / dims[0]) % dims[1], n.idx / strides[2]}
		for axis := 0; axis < 3; axis++ {
			for _, dir := range [2]int{-1, 1} {
				p := pos[axis] + dir
				if p < 0 || p >= dims[axis] {
					continue
				}
				nb := n.idx + dir*strides[axis]
				if frozen[nb] {
					continue
				}
				f := speed.Data[nb]
				if !(f > 0) {
					continue
				}

				nbPos := pos
				nbPos[axis] = p
				t := solveEikonal(out.Data, frozen, nb, nbPos, dims, strides, spacing, f)
				if t < tentative[nb] {
					tentative[nb] = t
					heap.Push(h, node{idx: nb, time: t})
				}
			}
		}
	}

	return out, nil
}

// solveEikonal computes the upwind arrival time at idx from its frozen
// neighbours, adding axes in increasing order of neighbour time while the
// quadratic solution stays above them.
func solveEikonal(times []float64, frozen []bool, idx int, pos, dims, strides [3]int, spacing [3]float64, speed float64) float64 {
	type term struct{ t, h float64 }
	var terms []term

	for axis := 0; axis < 3; axis++ {
		best := math.Inf(1)
		for _, dir := range [2]int{-1, 1} {
			p := pos[axis] + dir
			if p < 0 || p >= dims[axis] {
				continue
			}
			nb := idx + dir*strides[axis]
			if frozen[nb] && times[nb] < best {
				best = times[nb]
			}
		}
		if !math.IsInf(best, 1) {
			h := spacing[axis]
			if h <= 0 {
				h = 1
			}
			terms = append(terms, term{t: best, h: h})
		}
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].t < terms[j].t })

	rhs := 1 / (speed * speed)
	solution := math.Inf(1)
	var a, b, c float64
	for k, tm := range terms {
		w := 1 / (tm.h * tm.h)
		a += w
		b -= 2 * tm.t * w
		c += tm.t * tm.t * w

		disc := b*b - 4*a*(c-rhs)
		if disc < 0 {
			break
		}
		s := (-b + math.Sqrt(disc)) / (2 * a)
		solution = s
		if k+1 < len(terms) && s <= terms[k+1].t {
			break
		}
	}
	return solution
}
