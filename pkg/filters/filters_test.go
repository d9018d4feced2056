package filters

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"liverseg/internal/models"
)

// stepVolume has a vertical intensity edge at x == width/2.
func stepVolume(width, height, depth int, low, high float64) *models.Volume {
	v := models.NewVolume(width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if x >= width/2 {
					v.Set(x, y, z, high)
				} else {
					v.Set(x, y, z, low)
				}
			}
		}
	}
	return v
}

func constantVolume(width, height, depth int, value float64) *models.Volume {
	v := models.NewVolume(width, height, depth)
	for i := range v.Data {
		v.Data[i] = value
	}
	return v
}

func TestSigmoidBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	v := models.NewVolume(50, 50, 1)
	for i := range v.Data {
		v.Data[i] = (rng.Float64() - 0.5) * 1e6
	}

	pairs := [][2]float64{{0, 10}, {-5, 5}, {3, 3}, {100, 1e5}, {12, 3}}
	for _, p := range pairs {
		out := Sigmoid(v, p[0], p[1])
		for i, y := range out.Data {
			if math.IsNaN(y) || y < 0 || y > 1 {
				t.Fatalf("Sigmoid(%g, %g) produced %g at voxel %d", p[0], p[1], y, i)
			}
		}
	}
}

func TestSigmoidParameters(t *testing.T) {
	alpha, beta := SigmoidParameters(2, 14)
	if alpha != 2 || beta != 8 {
		t.Errorf("Expected alpha 2 and beta 8, got %g and %g", alpha, beta)
	}

	v := models.NewVolume(1, 1, 1)
	v.Data[0] = 8
	if got := Sigmoid(v, 2, 14).Data[0]; math.Abs(got-0.5) > 1e-12 {
		t.Errorf("Expected 0.5 at the midpoint, got %g", got)
	}
}

func TestRecursiveGaussianPreservesConstant(t *testing.T) {
	v := constantVolume(20, 15, 3, 42)
	out, err := RecursiveGaussian{Sigma: 2}.Apply(v)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i, x := range out.Data {
		if math.Abs(x-42) > 1e-9 {
			t.Fatalf("Expected 42 at voxel %d, got %g", i, x)
		}
	}
}

func TestRecursiveGaussianSmoothsEdge(t *testing.T) {
	v := stepVolume(40, 5, 1, 0, 100)
	out, err := RecursiveGaussian{Sigma: 2}.Apply(v)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	left, right := out.At(19, 2, 0), out.At(20, 2, 0)
	if !(left > 0 && left < 50 && right > 50 && right < 100) {
		t.Errorf("Expected a smoothed edge, got %g and %g", left, right)
	}
	if v.At(19, 2, 0) != 0 {
		t.Error("Input volume was modified")
	}
}

func TestMedianRemovesImpulse(t *testing.T) {
	v := constantVolume(9, 9, 1, 10)
	v.Set(4, 4, 0, 1000)

	out, err := Median{Radius: 1, Workers: 2}.Apply(v)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.At(4, 4, 0) != 10 {
		t.Errorf("Expected impulse removed, got %g", out.At(4, 4, 0))
	}
}

func TestDenoiserValidation(t *testing.T) {
	bad := []Denoiser{
		AnisotropicDiffusion{TimeStep: 0, Conductance: 1, Iterations: 1},
		AnisotropicDiffusion{TimeStep: 0.06, Conductance: 9, Iterations: 0},
		RecursiveGaussian{Sigma: -1},
		Median{Radius: 0},
	}
	v := constantVolume(4, 4, 1, 1)
	for _, d := range bad {
		if _, err := d.Apply(v); err == nil {
			t.Errorf("Expected %s to reject %+v", d.Name(), d)
		}
	}
}

func TestAnisotropicDiffusionReducesNoiseKeepsEdge(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	v := stepVolume(32, 32, 1, 0, 200)
	for i := range v.Data {
		v.Data[i] += rng.NormFloat64() * 5
	}

	out, err := AnisotropicDiffusion{TimeStep: 0.06, Conductance: 3, Iterations: 10}.Apply(v)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if variance(out, 0, 12) >= variance(v, 0, 12) {
		t.Errorf("Expected diffusion to reduce noise in the flat region")
	}
	if out.At(20, 16, 0)-out.At(11, 16, 0) < 150 {
		t.Errorf("Expected the edge to survive, got contrast %g", out.At(20, 16, 0)-out.At(11, 16, 0))
	}
}

func TestWorkersDoNotChangeResult(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	v := models.NewVolume(12, 12, 6)
	for i := range v.Data {
		v.Data[i] = rng.Float64() * 100
	}

	for _, mk := range []func(workers int) Denoiser{
		func(w int) Denoiser { return Median{Radius: 1, Workers: w} },
		func(w int) Denoiser { return AnisotropicDiffusion{TimeStep: 0.05, Conductance: 2, Iterations: 3, Workers: w} },
	} {
		a, err := mk(1).Apply(v)
		if err != nil {
			t.Fatal(err)
		}
		b, err := mk(4).Apply(v)
		if err != nil {
			t.Fatal(err)
		}
		for i := range a.Data {
			if a.Data[i] != b.Data[i] {
				t.Fatalf("%s: result differs at voxel %d", mk(1).Name(), i)
			}
		}
	}
}

func TestGradientMagnitudePeaksAtEdge(t *testing.T) {
	v := stepVolume(40, 10, 1, 0, 100)
	g, err := GradientMagnitude(v, 1.0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	edge := g.At(19, 5, 0) + g.At(20, 5, 0)
	flat := g.At(2, 5, 0) + g.At(37, 5, 0)
	if edge <= flat*10 {
		t.Errorf("Expected strong response at the edge, got edge=%g flat=%g", edge, flat)
	}

	if _, err := GradientMagnitude(v, 0); err == nil {
		t.Error("Expected error for zero sigma")
	}
}

func TestFeatureImageDeterministic(t *testing.T) {
	v := stepVolume(24, 24, 2, 10, 90)
	params := FeatureParams{Denoiser: Median{Radius: 1}, Sigma: 1, K1: 12, K2: 3}

	a, err := FeatureImage(v, params)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	b, _ := FeatureImage(v, params)

	for i := range a.Feature.Data {
		if a.Feature.Data[i] != b.Feature.Data[i] {
			t.Fatalf("Feature image not reproducible at voxel %d", i)
		}
		if a.Feature.Data[i] < 0 || a.Feature.Data[i] > 1 {
			t.Fatalf("Feature value %g out of [0,1]", a.Feature.Data[i])
		}
	}
	if a.Feature.Geometry != v.Geometry {
		t.Error("Expected feature image to keep the source geometry")
	}

	if _, err := FeatureImage(v, FeatureParams{Sigma: 1}); err == nil {
		t.Error("Expected error without a denoiser")
	}
}

func TestBinaryThresholdInclusive(t *testing.T) {
	v := models.NewVolume(5, 1, 1)
	copy(v.Data, []float64{-1, 0, 0.5, 1, 1.0001})

	out := BinaryThreshold(v, 0, 1)
	want := []float64{255, 1, 1, 1, 255}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Errorf("Voxel %d: expected %g, got %g", i, want[i], out.Data[i])
		}
	}
}

func TestRescaleIntensity(t *testing.T) {
	v := models.NewVolume(3, 1, 1)
	copy(v.Data, []float64{-100, 0, 100})
	out := RescaleIntensity(v, 0, 255)
	if out.Data[0] != 0 || out.Data[2] != 255 || out.Data[1] != 127.5 {
		t.Errorf("Unexpected rescale result %v", out.Data)
	}

	flat := RescaleIntensity(constantVolume(2, 2, 1, 5), 0, 255)
	if flat.Data[0] != 0 {
		t.Errorf("Expected flat image to map to 0, got %g", flat.Data[0])
	}
}

// TestRescaleIntensityEndpoints verifies that ranges which do not divide
// evenly still hit both ends and that non-finite voxels are ignored
func TestRescaleIntensityEndpoints(t *testing.T) {
	v := models.NewVolume(5, 1, 1)
	copy(v.Data, []float64{0.1, 0.3, 0.7, math.NaN(), math.Inf(1)})

	out := RescaleIntensity(v, -1, 1)
	if out.Data[0] != -1 || out.Data[2] != 1 {
		t.Errorf("Expected the range ends at exactly -1 and 1, got %g and %g", out.Data[0], out.Data[2])
	}
	if math.Abs(out.Data[1]-(-1.0/3)) > 1e-12 {
		t.Errorf("Expected -1/3, got %g", out.Data[1])
	}
	if out.Data[3] != -1 || out.Data[4] != -1 {
		t.Errorf("Expected non-finite voxels at -1, got %g and %g", out.Data[3], out.Data[4])
	}

	ramp := models.NewVolume(7, 1, 1)
	for i := range ramp.Data {
		ramp.Data[i] = 3.3 * float64(i)
	}
	if got := RescaleIntensity(ramp, 0, 255).Data[6]; got != 255 {
		t.Errorf("Expected the maximum at exactly 255, got %.17g", got)
	}
}

func TestSummarizeAndHistogram(t *testing.T) {
	v := models.NewVolume(4, 1, 1)
	copy(v.Data, []float64{1, 2, 3, math.Inf(1)})

	s := Summarize(v)
	if s.Min != 1 || s.Max != 3 || s.Mean != 2 {
		t.Errorf("Unexpected summary %+v", s)
	}

	var buf bytes.Buffer
	if err := Histogram(&buf, v, 3, math.MaxFloat64); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("Expected histogram output")
	}
}

func variance(v *models.Volume, x0, x1 int) float64 {
	var values []float64
	for y := 0; y < v.Height; y++ {
		for x := x0; x < x1; x++ {
			values = append(values, v.At(x, y, 0))
		}
	}
	mean := 0.0
	for _, x := range values {
		mean += x
	}
	mean /= float64(len(values))
	sum := 0.0
	for _, x := range values {
		sum += (x - mean) * (x - mean)
	}
	return sum / float64(len(values))
}
