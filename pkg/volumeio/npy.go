package volumeio

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// Mask is a 2D label image in row-major order.
type Mask struct {
	Rows, Cols int
	Data       []float64
}

// At returns the label at (row, col).
func (m *Mask) At(row, col int) float64 {
	return m.Data[row*m.Cols+col]
}

// ReadMask reads a 2D NumPy array, or a 3D array with a single leading
// slice, of any integer, boolean or float dtype.
func ReadMask(path string) (*Mask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open mask")
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: not a NumPy file", path)
	}

	shape := r.Header.Descr.Shape
	if len(shape) == 3 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 2 {
		return nil, errors.Errorf("%s: expected a 2D mask, got shape %v", path, r.Header.Descr.Shape)
	}
	rows, cols := shape[0], shape[1]

	data, err := readValues(r)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if len(data) != rows*cols {
		return nil, errors.Errorf("%s: expected %d values, got %d", path, rows*cols, len(data))
	}

	if r.Header.Descr.Fortran {
		data = mat.DenseCopyOf(mat.NewDense(cols, rows, data).T()).RawMatrix().Data
	}
	return &Mask{Rows: rows, Cols: cols, Data: data}, nil
}

func readValues(r *npyio.Reader) ([]float64, error) {
	dtype := strings.TrimLeft(r.Header.Descr.Type, "<>|=")

	switch dtype {
	case "f8":
		var v []float64
		err := r.Read(&v)
		return v, err
	case "f4":
		var v []float32
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(len(v), func(i int) float64 { return float64(v[i]) }), nil
	case "i8":
		var v []int64
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(len(v), func(i int) float64 { return float64(v[i]) }), nil
	case "i4":
		var v []int32
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(len(v), func(i int) float64 { return float64(v[i]) }), nil
	case "i2":
		var v []int16
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(len(v), func(i int) float64 { return float64(v[i]) }), nil
	case "i1":
		var v []int8
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(len(v), func(i int) float64 { return float64(v[i]) }), nil
	case "u8":
		var v []uint64
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(len(v), func(i int) float64 { return float64(v[i]) }), nil
	case "u4":
		var v []uint32
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(len(v), func(i int) float64 { return float64(v[i]) }), nil
	case "u2":
		var v []uint16
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(len(v), func(i int) float64 { return float64(v[i]) }), nil
	case "u1":
		var v []uint8
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(len(v), func(i int) float64 { return float64(v[i]) }), nil
	case "b1":
		var v []bool
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(len(v), func(i int) float64 {
			if v[i] {
				return 1
			}
			return 0
		}), nil
	}
	return nil, errors.Errorf("unsupported dtype %q", r.Header.Descr.Type)
}

func widen(n int, at func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = at(i)
	}
	return out
}

// WriteMask writes a rows x cols float64 array in C order.
func WriteMask(path string, rows, cols int, data []float64) error {
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return errors.Errorf("mask data has %d values, expected %dx%d", len(data), rows, cols)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create mask directory")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create mask file")
	}
	defer f.Close()

	m := mat.NewDense(rows, cols, append([]float64(nil), data...))
	if err := npyio.Write(f, m); err != nil {
		return errors.Wrap(err, "failed to write mask")
	}
	return f.Close()
}
