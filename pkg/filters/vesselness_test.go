package filters

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	"liverseg/internal/models"
)

// tubeVolume holds a Gaussian tube of the given amplitude running along z
// through (10, 10).
func tubeVolume(amplitude float64) *models.Volume {
	v := models.NewVolume(21, 21, 7)
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				r2 := float64((x-10)*(x-10) + (y-10)*(y-10))
				v.Set(x, y, z, amplitude*math.Exp(-r2/(2*1.5*1.5)))
			}
		}
	}
	return v
}

func TestMultiScaleSigmas(t *testing.T) {
	got := MultiScaleSigmas(1, 3, 3)
	want := []float64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Scale %d: expected %g, got %g", i, want[i], got[i])
		}
	}
	if got := MultiScaleSigmas(2, 5, 1); len(got) != 1 || got[0] != 2 {
		t.Errorf("Expected a single scale 2, got %v", got)
	}
}

func TestFrangiEnhancesBrightTube(t *testing.T) {
	f := DefaultFrangi()
	f.Workers = 2

	out, err := f.Apply(tubeVolume(1000))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	center, far := out.At(10, 10, 3), out.At(3, 3, 3)
	if !(center > 1) {
		t.Errorf("Expected a strong response on the tube axis, got %g", center)
	}
	if far > 1e-3*center {
		t.Errorf("Expected almost no response away from the tube, got %g against %g", far, center)
	}
	if side := out.At(10, 10, 0); math.Abs(side-center) > 1e-6*center {
		t.Errorf("Expected the same response along the tube, got %g and %g", side, center)
	}

	dark, err := f.Apply(tubeVolume(-1000))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := dark.At(10, 10, 3); got != 0 {
		t.Errorf("Expected no response to a dark tube, got %g", got)
	}
}

func TestFrangiFlatImage(t *testing.T) {
	out, err := DefaultFrangi().Apply(constantVolume(9, 9, 3, 50))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i, x := range out.Data {
		if math.Abs(x) > 1e-9 {
			t.Fatalf("Voxel %d: expected no response on a flat image, got %g", i, x)
		}
	}
}

func TestFrangiOnSingleSlice(t *testing.T) {
	v := models.NewVolume(21, 21, 1)
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			v.Set(x, y, 0, 1000*math.Exp(-float64((x-10)*(x-10))/(2*1.5*1.5)))
		}
	}

	out, err := DefaultFrangi().Apply(v)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if center, far := out.At(10, 10, 0), out.At(3, 10, 0); !(center > 1) || far > 1e-3*center {
		t.Errorf("Expected the line to stand out, got %g on it and %g beside it", center, far)
	}
}

func TestSatoEnhancesBrightTube(t *testing.T) {
	out, err := DefaultSato().Apply(tubeVolume(1000))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	center, far := out.At(10, 10, 3), out.At(3, 3, 3)
	if !(center > 1) {
		t.Errorf("Expected a strong response on the tube axis, got %g", center)
	}
	if far > 1e-3*center {
		t.Errorf("Expected almost no response away from the tube, got %g against %g", far, center)
	}
}

func TestVesselnessValidation(t *testing.T) {
	f := DefaultFrangi()
	f.Sigmas = nil
	if _, err := f.Apply(tubeVolume(1)); errors.Cause(err) != ErrParameter {
		t.Errorf("Expected ErrParameter without scales, got %v", err)
	}

	s := DefaultSato()
	s.Alpha2 = 0
	if err := s.Validate(); errors.Cause(err) != ErrParameter {
		t.Errorf("Expected ErrParameter for alpha2 0, got %v", err)
	}

	if _, err := DefaultSato().Apply(models.NewVolume(5, 1, 1)); errors.Cause(err) != ErrParameter {
		t.Errorf("Expected ErrParameter for a one dimensional image, got %v", err)
	}
}
