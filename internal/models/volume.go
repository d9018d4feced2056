package models

import (
	"math"

	"github.com/pkg/errors"
)

// ErrRegion is returned when a requested region does not fit inside a volume.
var ErrRegion = errors.New("region outside volume")

// Geometry is the physical reference frame of a voxel grid. Every image
// derived from a source volume carries a copy of the source geometry.
type Geometry struct {
	// Spacing is the physical size of a voxel in mm along x, y and z
	Spacing [3]float64 `yaml:"spacing"`

	// Origin is the physical position of voxel (0, 0, 0)
	Origin [3]float64 `yaml:"origin"`

	// Direction holds the direction cosines as a row-major 3x3 matrix
	Direction [9]float64 `yaml:"direction"`
}

// DefaultGeometry returns unit spacing, zero origin and identity direction.
func DefaultGeometry() Geometry {
	return Geometry{
		Spacing:   [3]float64{1, 1, 1},
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
}

// Volume is a scalar 3D grid. A 2D image is a volume with Depth 1.
type Volume struct {
	// Data is the voxel data as a 1D array in row-major order (z, y, x)
	Data []float64

	// Width is the number of columns
	Width int

	// Height is the number of rows
	Height int

	// Depth is the number of slices
	Depth int

	Geometry Geometry
}

// NewVolume allocates a zero-filled volume with default geometry.
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:     make([]float64, width*height*depth),
		Width:    width,
		Height:   height,
		Depth:    depth,
		Geometry: DefaultGeometry(),
	}
}

// NewLike allocates a zero-filled volume with the same shape and geometry as v.
func (v *Volume) NewLike() *Volume {
	out := NewVolume(v.Width, v.Height, v.Depth)
	out.Geometry = v.Geometry
	return out
}

// Clone returns a deep copy of v.
func (v *Volume) Clone() *Volume {
	out := v.NewLike()
	copy(out.Data, v.Data)
	return out
}

// Index converts (x, y, z) to an offset into Data.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Contains reports whether (x, y, z) lies inside the grid.
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Width && y < v.Height && z < v.Depth
}

func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// Len is the number of voxels.
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// Slice returns a copy of slice z as a single-slice volume. The origin is
// moved to the slice position so that the slice stays aligned with v.
func (v *Volume) Slice(z int) (*Volume, error) {
	if z < 0 || z >= v.Depth {
		return nil, errors.Wrapf(ErrRegion, "slice %d of %d", z, v.Depth)
	}

	out := NewVolume(v.Width, v.Height, 1)
	out.Geometry = v.Geometry
	out.Geometry.Origin = v.PhysicalPoint(0, 0, z)

	n := v.Width * v.Height
	copy(out.Data, v.Data[z*n:(z+1)*n])
	return out, nil
}

// SetSlice overwrites slice z with data, which must hold Width*Height values.
func (v *Volume) SetSlice(z int, data []float64) error {
	n := v.Width * v.Height
	if z < 0 || z >= v.Depth {
		return errors.Wrapf(ErrRegion, "slice %d of %d", z, v.Depth)
	}
	if len(data) != n {
		return errors.Errorf("slice data has %d values, expected %d", len(data), n)
	}
	copy(v.Data[z*n:(z+1)*n], data)
	return nil
}

// PhysicalPoint maps a voxel index to physical coordinates using
// origin + direction * (index * spacing).
func (v *Volume) PhysicalPoint(x, y, z int) [3]float64 {
	g := v.Geometry
	idx := [3]float64{
		float64(x) * g.Spacing[0],
		float64(y) * g.Spacing[1],
		float64(z) * g.Spacing[2],
	}

	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = g.Origin[r]
		for c := 0; c < 3; c++ {
			p[r] += g.Direction[r*3+c] * idx[c]
		}
	}
	return p
}

// MinMax returns the smallest and largest voxel values.
func (v *Volume) MinMax() (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, val := range v.Data {
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
	}
	return min, max
}

// ExtractRegion crops a sub-volume starting at (startX, startY, startZ).
// The origin of the result is the physical position of the crop corner.
func (v *Volume) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) (*Volume, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, errors.Wrap(ErrRegion, "start coordinates must be non-negative")
	}

	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, errors.Wrap(ErrRegion, "size dimensions must be positive")
	}

	if startX+sizeX > v.Width || startY+sizeY > v.Height || startZ+sizeZ > v.Depth {
		return nil, errors.Wrap(ErrRegion, "region extends beyond volume boundaries")
	}

	out := NewVolume(sizeX, sizeY, sizeZ)
	out.Geometry = v.Geometry
	out.Geometry.Origin = v.PhysicalPoint(startX, startY, startZ)

	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			src := v.Index(startX, startY+y, startZ+z)
			dst := out.Index(0, y, z)
			copy(out.Data[dst:dst+sizeX], v.Data[src:src+sizeX])
		}
	}

	return out, nil
}
