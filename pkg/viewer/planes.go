package viewer

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"liverseg/internal/models"
)

// ExtractPlane extracts a 2D plane from the volume perpendicular to axis
// ("x", "y" or "z"). Intensities are scaled from the range of the whole
// volume so that planes of one volume are comparable.
func ExtractPlane(v *models.Volume, axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, errors.New("position must be non-negative")
	}

	lo, hi := v.MinMax()
	level := func(val float64) color.Gray16 {
		if !(hi > lo) {
			return color.Gray16{}
		}
		return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, (val-lo)/(hi-lo)*65535)))}
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		if position >= v.Width {
			return nil, errors.Errorf("position %d exceeds width %d", position, v.Width)
		}

		img = image.NewGray16(image.Rect(0, 0, v.Depth, v.Height))
		for y := 0; y < v.Height; y++ {
			for z := 0; z < v.Depth; z++ {
				img.SetGray16(z, y, level(v.At(position, y, z)))
			}
		}

	case "y", "Y":
		if position >= v.Height {
			return nil, errors.Errorf("position %d exceeds height %d", position, v.Height)
		}

		img = image.NewGray16(image.Rect(0, 0, v.Width, v.Depth))
		for z := 0; z < v.Depth; z++ {
			for x := 0; x < v.Width; x++ {
				img.SetGray16(x, z, level(v.At(x, position, z)))
			}
		}

	case "z", "Z":
		if position >= v.Depth {
			return nil, errors.Errorf("position %d exceeds depth %d", position, v.Depth)
		}

		img = image.NewGray16(image.Rect(0, 0, v.Width, v.Height))
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				img.SetGray16(x, y, level(v.At(x, y, position)))
			}
		}

	default:
		return nil, errors.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSliceSequence extracts and saves every plane along axis as PNG files
// named slice_<axis>_NNN.png.
func SaveSliceSequence(v *models.Volume, axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create slice directory")
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.Width
	case "y", "Y":
		maxPos = v.Height
	case "z", "Z":
		maxPos = v.Depth
	default:
		return errors.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := ExtractPlane(v, axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := imaging.Save(img, filename); err != nil {
			return errors.Wrapf(err, "failed to save %s", filename)
		}
	}

	return nil
}
