// Package labelmap assembles per-slice segmentation masks into a 3D label
// volume aligned with the source series.
package labelmap

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"liverseg/internal/models"
	"liverseg/pkg/volumeio"
)

var (
	// ErrShapeMismatch is returned when a mask does not match the slice size
	// of the reference volume.
	ErrShapeMismatch = errors.New("mask shape does not match reference slices")

	// ErrSliceIndex is returned when a file name has no slice number or the
	// number is outside the reference volume.
	ErrSliceIndex = errors.New("invalid slice index")
)

// SliceIndex returns the first run of ASCII digits in the base name of
// path, so "slice_012_gac.npy" is slice 12.
func SliceIndex(path string) (int, error) {
	base := filepath.Base(path)
	start := strings.IndexFunc(base, isDigit)
	if start < 0 {
		return 0, errors.Wrapf(ErrSliceIndex, "no slice number in %q", base)
	}
	end := start
	for end < len(base) && isDigit(rune(base[end])) {
		end++
	}
	n, err := strconv.Atoi(base[start:end])
	if err != nil {
		return 0, errors.Wrapf(ErrSliceIndex, "slice number in %q: %v", base, err)
	}
	return n, nil
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// Assembler collects masks into a label volume shaped like Reference.
type Assembler struct {
	Reference *models.Volume
	Logger    *logrus.Logger
}

// Assemble reads every *.npy mask in dir, in lexical order, into a zero
// initialised label volume. A later file with the same slice index replaces
// an earlier one. Labels are stored as int16 values and the reference
// geometry is copied.
func (a *Assembler) Assemble(dir string) (*models.Volume, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.npy"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list masks")
	}
	sort.Strings(paths)

	ref := a.Reference
	labels := ref.NewLike()
	for _, path := range paths {
		idx, err := SliceIndex(path)
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= ref.Depth {
			return nil, errors.Wrapf(ErrSliceIndex, "%s: slice %d outside [0, %d)", filepath.Base(path), idx, ref.Depth)
		}

		mask, err := volumeio.ReadMask(path)
		if err != nil {
			return nil, err
		}
		if mask.Rows != ref.Height || mask.Cols != ref.Width {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s is %dx%d (rows x cols), reference slices are %dx%d",
				filepath.Base(path), mask.Rows, mask.Cols, ref.Height, ref.Width)
		}

		data := make([]float64, len(mask.Data))
		for i, x := range mask.Data {
			data[i] = toInt16(x)
		}
		if err := labels.SetSlice(idx, data); err != nil {
			return nil, err
		}

		a.logger().WithFields(logrus.Fields{
			"file":  filepath.Base(path),
			"slice": idx,
		}).Debug("placed mask")
	}

	a.logger().WithFields(logrus.Fields{
		"masks": len(paths),
		"depth": ref.Depth,
	}).Info("assembled label map")
	return labels, nil
}

// Write assembles dir and saves the label map as a MetaImage of shorts.
func (a *Assembler) Write(dir, output string) (*models.Volume, error) {
	labels, err := a.Assemble(dir)
	if err != nil {
		return nil, err
	}
	if err := volumeio.WriteMHA(output, labels, volumeio.MetShort); err != nil {
		return nil, err
	}
	return labels, nil
}

func (a *Assembler) logger() *logrus.Logger {
	if a.Logger == nil {
		a.Logger = logrus.New()
		a.Logger.SetOutput(os.Stderr)
	}
	return a.Logger
}

// toInt16 truncates towards zero and saturates, as a NumPy int16 cast does
// for in-range values.
func toInt16(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Trunc(x)))
}
