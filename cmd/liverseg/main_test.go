package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"liverseg/internal/models"
	"liverseg/pkg/config"
	"liverseg/pkg/prompt"
	"liverseg/pkg/volumeio"
)

func patternedVolume(width, height, depth int) *models.Volume {
	v := models.NewVolume(width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v.Set(x, y, z, float64(100*z+10*y+x))
			}
		}
	}
	v.Geometry.Spacing = [3]float64{0.5, 0.75, 2}
	v.Geometry.Origin = [3]float64{-20, 10, 100}
	return v
}

// TestExtractROIInclusiveEnd verifies the cropped box and that its origin
// survives a MetaImage round trip
func TestExtractROIInclusiveEnd(t *testing.T) {
	vol := patternedVolume(6, 5, 4)
	// the first x end is before the start and is asked again
	answers := "1\n0\n3\n0\n4\n2\n3\n"
	var out bytes.Buffer

	roi, err := extractROI(prompt.New(strings.NewReader(answers), &out), vol)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if roi.Width != 3 || roi.Height != 5 || roi.Depth != 2 {
		t.Fatalf("Expected a 3x5x2 region, got %dx%dx%d", roi.Width, roi.Height, roi.Depth)
	}
	if !strings.Contains(out.String(), "invalid answer") {
		t.Error("Expected the end before the start to be rejected")
	}

	path := filepath.Join(t.TempDir(), "roi.mha")
	if err := volumeio.WriteMHA(path, roi, volumeio.MetFloat); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	got, err := volumeio.ReadMHA(path)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if want := vol.PhysicalPoint(1, 0, 2); got.Geometry.Origin != want {
		t.Errorf("Expected origin %v, got %v", want, got.Geometry.Origin)
	}
	if got.Geometry.Spacing != vol.Geometry.Spacing {
		t.Errorf("Expected spacing %v, got %v", vol.Geometry.Spacing, got.Geometry.Spacing)
	}
	if a, b := got.At(0, 0, 0), vol.At(1, 0, 2); a != b {
		t.Errorf("Expected first voxel %g, got %g", b, a)
	}
	if a, b := got.At(2, 4, 1), vol.At(3, 4, 3); a != b {
		t.Errorf("Expected last voxel %g, got %g", b, a)
	}
}

// TestAskSegmentationAllowsLandmarksOutsideRange verifies that K1 and K2
// outside the gradient range are kept with a warning
func TestAskSegmentationAllowsLandmarksOutsideRange(t *testing.T) {
	vol := models.NewVolume(20, 20, 1)
	for y := 5; y < 15; y++ {
		for x := 5; x < 15; x++ {
			vol.Set(x, y, 0, 100)
		}
	}
	cfg := config.DefaultConfig()
	cfg.Processing.Workers = 1

	answers := strings.Join([]string{"2", "5", "-3", "10,12", "2", "50"}, "\n") + "\n"
	var questions, report bytes.Buffer
	slice, picked, err := askSegmentation(prompt.New(strings.NewReader(answers), &questions), &report, vol, cfg, 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if slice != 0 || cfg.Filter.Method != config.FilterGaussian {
		t.Errorf("Expected slice 0 with the gaussian filter, got %d and %d", slice, cfg.Filter.Method)
	}
	if cfg.Feature.K1 != 5 || cfg.Feature.K2 != -3 {
		t.Errorf("Expected K1 5 and K2 -3, got %g and %g", cfg.Feature.K1, cfg.Feature.K2)
	}
	if !strings.Contains(report.String(), "warning: -3 is outside the gradient range") {
		t.Errorf("Expected a warning for K2, got %q", report.String())
	}
	if len(picked) != 1 || picked[0] != (models.Seed{Row: 12, Col: 10, Slice: 0, Radius: 2}) {
		t.Errorf("Unexpected seeds %+v", picked)
	}
	if cfg.FastMarching.StoppingValue != 50 {
		t.Errorf("Expected stopping value 50, got %g", cfg.FastMarching.StoppingValue)
	}
}

func TestNewVesselFilter(t *testing.T) {
	for method, want := range map[string]string{"frangi": "frangi", " Sato ": "sato"} {
		f, err := newVesselFilter(method, []float64{1}, true, 1)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", method, err)
		}
		if f.Name() != want {
			t.Errorf("%q: expected %s, got %s", method, want, f.Name())
		}
	}
	if _, err := newVesselFilter("hessian", []float64{1}, true, 1); err == nil {
		t.Error("Expected an error for an unknown method")
	}
}
