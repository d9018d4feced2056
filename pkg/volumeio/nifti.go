package volumeio

import (
	"fmt"
	"os"

	"github.com/henghuang/nifti"
	"github.com/pkg/errors"

	"liverseg/internal/models"
)

// safelyLoadNIfTI consumes panics emitted by the nifti library, which are
// turned into recoverable errors.
func safelyLoadNIfTI(path string) (img nifti.Nifti1Image, header nifti.Nifti1Header, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	img.LoadImage(path, true)
	header.LoadHeader(path)
	return
}

// LoadNIfTI reads the first time point of a .nii or .nii.gz volume. Spacing
// comes from pixdim; origin and direction are left at their defaults.
func LoadNIfTI(path string) (*models.Volume, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "failed to open NIfTI file")
	}

	img, header, err := safelyLoadNIfTI(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse NIfTI file %s", path)
	}

	dims := img.GetDims()
	xm, ym, zm := dims[0], dims[1], dims[2]
	if zm == 0 {
		zm = 1
	}
	if xm <= 0 || ym <= 0 {
		return nil, errors.Errorf("%s has invalid dimensions %v", path, dims)
	}

	v := models.NewVolume(xm, ym, zm)
	for a := 0; a < 3; a++ {
		if s := float64(header.Pixdim[a+1]); s > 0 {
			v.Geometry.Spacing[a] = s
		}
	}

	for z := 0; z < zm; z++ {
		for y := 0; y < ym; y++ {
			for x := 0; x < xm; x++ {
				v.Set(x, y, z, float64(img.GetAt(x, y, z, 0)))
			}
		}
	}
	return v, nil
}
