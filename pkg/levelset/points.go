package levelset

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"liverseg/internal/models"
)

// Point3D is a physical position, in mm, used for nearest-point queries.
type Point3D struct {
	X, Y, Z float64
}

// Compare implements the kdtree.Comparable interface
func (p Point3D) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Point3D)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

func (p Point3D) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p Point3D) Distance(c kdtree.Comparable) float64 {
	q := c.(Point3D)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// Points3D is a collection of Point3D that satisfies kdtree.Interface
type Points3D []Point3D

func (p Points3D) Index(i int) kdtree.Comparable         { return p[i] }
func (p Points3D) Len() int                              { return len(p) }
func (p Points3D) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p Points3D) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{Points3D: p, Dim: d}, kdtree.MedianOfMedians(pointPlane{Points3D: p, Dim: d}))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for Points3D
type pointPlane struct {
	Points3D
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Points3D[i].X < p.Points3D[j].X
	case 1:
		return p.Points3D[i].Y < p.Points3D[j].Y
	case 2:
		return p.Points3D[i].Z < p.Points3D[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{Points3D: p.Points3D[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.Points3D[i], p.Points3D[j] = p.Points3D[j], p.Points3D[i]
}

// voxelPoint returns the position of voxel (x, y, z) scaled by spacing.
// Direction cosines are orthonormal, so distances do not depend on them.
func voxelPoint(v *models.Volume, x, y, z float64) Point3D {
	s := v.Geometry.Spacing
	return Point3D{X: x * s[0], Y: y * s[1], Z: z * s[2]}
}

// nearestDistances returns, for every voxel of v, the Euclidean distance to
// the closest point in pts. pts must not be empty.
func nearestDistances(v *models.Volume, pts Points3D) []float64 {
	tree := kdtree.New(pts, false)
	out := make([]float64, v.Len())
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				_, d2 := tree.Nearest(voxelPoint(v, float64(x), float64(y), float64(z)))
				out[v.Index(x, y, z)] = math.Sqrt(d2)
			}
		}
	}
	return out
}
