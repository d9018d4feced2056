package filters

import (
	"io"
	"math"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"liverseg/internal/models"
)

// Summary describes the intensity distribution of a volume.
type Summary struct {
	Min, Max     float64
	Mean, StdDev float64
}

// Summarize computes min, max, mean and standard deviation of the finite
// voxels of v. Unreached fast marching voxels (huge values) should be
// filtered by the caller if they are not wanted.
func Summarize(v *models.Volume) Summary {
	finite := finiteValues(v.Data)
	if len(finite) == 0 {
		return Summary{}
	}

	s := Summary{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, x := range finite {
		s.Min = math.Min(s.Min, x)
		s.Max = math.Max(s.Max, x)
	}
	s.Mean, s.StdDev = stat.MeanStdDev(finite, nil)
	return s
}

// Histogram prints a terminal histogram of the voxels of v below limit.
// It is used to choose sigmoid landmarks and label thresholds interactively.
func Histogram(w io.Writer, v *models.Volume, bins int, limit float64) error {
	var data []float64
	for _, x := range finiteValues(v.Data) {
		if x < limit {
			data = append(data, x)
		}
	}
	if len(data) == 0 {
		return errors.New("no voxels to plot")
	}

	hist := histogram.Hist(bins, data)
	return histogram.Fprint(w, hist, histogram.Linear(40))
}

// RescaleIntensity linearly maps the finite range of v onto [outMin, outMax].
// The range ends map exactly onto outMin and outMax. A flat image and
// non-finite voxels map to outMin.
func RescaleIntensity(v *models.Volume, outMin, outMax float64) *models.Volume {
	out := v.NewLike()
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range finiteValues(v.Data) {
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}

	for i, x := range v.Data {
		switch {
		case !(hi > lo) || math.IsNaN(x) || math.IsInf(x, 0):
			out.Data[i] = outMin
		case x == hi:
			out.Data[i] = outMax
		default:
			out.Data[i] = outMin + (x-lo)/(hi-lo)*(outMax-outMin)
		}
	}
	return out
}

// BinaryThreshold maps values inside the inclusive range [low, high] to 1 and
// everything else to 255. 255 is rendered as background by LabelOverlay.
func BinaryThreshold(v *models.Volume, low, high float64) *models.Volume {
	out := v.NewLike()
	for i, x := range v.Data {
		if x >= low && x <= high {
			out.Data[i] = InsideValue
		} else {
			out.Data[i] = OutsideValue
		}
	}
	return out
}

// Label values written by BinaryThreshold.
const (
	InsideValue  = 1
	OutsideValue = 255
)

func finiteValues(data []float64) []float64 {
	out := make([]float64, 0, len(data))
	for _, x := range data {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}
