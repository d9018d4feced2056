package levelset

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"

	"liverseg/internal/models"
)

func filled(width, height, depth int, value float64) *models.Volume {
	v := models.NewVolume(width, height, depth)
	for i := range v.Data {
		v.Data[i] = value
	}
	return v
}

func insideCount(v *models.Volume) int {
	n := 0
	for _, x := range v.Data {
		if x <= 0 {
			n++
		}
	}
	return n
}

func TestDiscStampMarksExactDisc(t *testing.T) {
	ref := models.NewVolume(10, 10, 5)
	seeds := []models.Seed{{Row: 5, Col: 5, Slice: 2, Radius: 2}}

	phi, err := DiscStamp(ref, seeds)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for z := 0; z < ref.Depth; z++ {
		for row := 0; row < ref.Height; row++ {
			for col := 0; col < ref.Width; col++ {
				dr, dc := row-5, col-5
				want := OutsideLevel
				if z == 2 && dr*dr+dc*dc <= 4 {
					want = InsideLevel
				}
				if got := phi.At(col, row, z); got != want {
					t.Errorf("Voxel (row %d, col %d, slice %d): expected %g, got %g", row, col, z, want, got)
				}
			}
		}
	}
	if n := insideCount(phi); n != 13 {
		t.Errorf("Expected 13 foreground voxels, got %d", n)
	}
}

func TestDiscBoundaryIncludedAtRadius(t *testing.T) {
	ref := models.NewVolume(20, 20, 1)
	for r := 1; r <= 6; r++ {
		mask, err := DiscMask(ref, []models.Seed{{Row: 10, Col: 10, Radius: r}})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if mask.At(10+r, 10, 0) != 1 || mask.At(10, 10-r, 0) != 1 {
			t.Errorf("Radius %d: expected points at distance r to be included", r)
		}
		// (r, 1) lies at sqrt(r*r+1) > r
		if mask.At(10+r, 11, 0) != 0 {
			t.Errorf("Radius %d: expected point beyond r to be excluded", r)
		}
	}
}

func TestSeedValidation(t *testing.T) {
	ref := models.NewVolume(10, 10, 5)

	if _, err := DiscStamp(ref, nil); errors.Cause(err) != ErrSeed {
		t.Errorf("Expected ErrSeed for no seeds, got %v", err)
	}
	if _, err := DiscStamp(ref, []models.Seed{{Row: 10, Col: 0, Slice: 0}}); errors.Cause(err) != ErrSeed {
		t.Errorf("Expected ErrSeed for out of grid seed, got %v", err)
	}
	if _, err := DistanceThreshold(ref, []models.Seed{{Row: 5, Col: 5, Slice: 2}}); errors.Cause(err) != ErrSeed {
		t.Errorf("Expected ErrSeed for a window without radius, got %v", err)
	}
}

func TestDistanceMap(t *testing.T) {
	ref := models.NewVolume(10, 10, 5)
	ref.Geometry.Spacing = [3]float64{2, 1, 1}
	seeds := []models.Seed{{Row: 5, Col: 5, Slice: 2}}

	dist, err := DistanceMap(ref, seeds)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if dist.At(5, 5, 2) != 0 {
		t.Errorf("Expected 0 at the seed, got %g", dist.At(5, 5, 2))
	}
	if got := dist.At(8, 5, 2); math.Abs(got-6) > 1e-12 {
		t.Errorf("Expected 6mm along x, got %g", got)
	}
	if got := dist.At(5, 8, 2); math.Abs(got-3) > 1e-12 {
		t.Errorf("Expected 3mm along y, got %g", got)
	}
	if dist.Geometry != ref.Geometry {
		t.Error("Expected distance map to keep the reference geometry")
	}
}

func TestDistanceThreshold(t *testing.T) {
	ref := models.NewVolume(10, 10, 5)
	seeds := []models.Seed{{Row: 5, Col: 5, Slice: 2, Radius: 2}}

	dist, _ := DistanceMap(ref, seeds)
	upper, err := WindowUpperThreshold(dist, seeds)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if math.Abs(upper-math.Sqrt(8)) > 1e-12 {
		t.Errorf("Expected window maximum sqrt(8), got %g", upper)
	}

	phi, err := DistanceThreshold(ref, seeds)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if phi.At(5, 5, 2) != InsideLevel || phi.At(3, 3, 2) != InsideLevel || phi.At(7, 7, 2) != InsideLevel {
		t.Error("Expected the seed window to be inside")
	}
	if phi.At(9, 9, 2) != OutsideLevel {
		t.Error("Expected a far voxel to be outside")
	}
	// the distance map is 3D, so neighbouring slices within reach are inside
	if phi.At(5, 5, 0) != InsideLevel || phi.At(5, 5, 1) != InsideLevel {
		t.Error("Expected voxels two slices away to be inside")
	}
}

func TestFastMarchingUniformSpeed(t *testing.T) {
	speed := filled(21, 21, 1, 1)
	seeds := []models.Seed{{Row: 10, Col: 10}}

	arrival, err := FastMarching(context.Background(), speed, seeds, 100)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if arrival.At(10, 10, 0) != 0 {
		t.Errorf("Expected 0 at the seed, got %g", arrival.At(10, 10, 0))
	}
	prev := 0.0
	for x := 11; x < 21; x++ {
		got := arrival.At(x, 10, 0)
		if got <= prev {
			t.Errorf("Expected arrival times to grow with distance, got %g after %g", got, prev)
		}
		prev = got
	}
	if got := arrival.At(15, 10, 0); got < 4.5 || got > 5+1e-9 {
		t.Errorf("Expected arrival near 5 at distance 5, got %g", got)
	}
	if arrival.At(20, 20, 0) == LargeValue {
		t.Error("Expected the corner to be reached")
	}
}

func TestFastMarchingStopsAndRespectsBarrier(t *testing.T) {
	speed := filled(21, 21, 1, 1)
	seeds := []models.Seed{{Row: 10, Col: 10}}

	arrival, err := FastMarching(context.Background(), speed, seeds, 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if arrival.At(11, 10, 0) != 1 {
		t.Errorf("Expected arrival 1 next to the seed, got %g", arrival.At(11, 10, 0))
	}
	if arrival.At(15, 10, 0) != LargeValue {
		t.Errorf("Expected LargeValue past the stopping value, got %g", arrival.At(15, 10, 0))
	}

	for y := 0; y < 21; y++ {
		speed.Set(13, y, 0, 0)
	}
	arrival, err = FastMarching(context.Background(), speed, seeds, 100)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if arrival.At(16, 4, 0) != LargeValue {
		t.Errorf("Expected no arrival behind a zero speed wall, got %g", arrival.At(16, 4, 0))
	}

	if _, err := FastMarching(context.Background(), speed, seeds, 0); err == nil {
		t.Error("Expected error for a zero stopping value")
	}
}

func TestShapeDetectionGrowsOnUniformFeature(t *testing.T) {
	ref := models.NewVolume(30, 30, 1)
	init, err := DiscStamp(ref, []models.Seed{{Row: 15, Col: 15, Radius: 3}})
	if err != nil {
		t.Fatal(err)
	}

	res, err := ShapeDetection(context.Background(), init, filled(30, 30, 1, 1), ShapeDetectionParams{
		MaxRMSError: 1e-9,
		Propagation: 1,
		Iterations:  20,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Iterations != 20 || res.Converged {
		t.Errorf("Expected 20 iterations without convergence, got %d (converged %v)", res.Iterations, res.Converged)
	}
	if insideCount(res.Phi) <= insideCount(init) {
		t.Errorf("Expected the contour to grow, got %d inside voxels from %d", insideCount(res.Phi), insideCount(init))
	}
	for i, x := range init.Data {
		if x < 0 && res.Phi.Data[i] > 0 {
			t.Fatalf("Voxel %d left the object during expansion", i)
		}
	}
}

func TestEvolutionConvergesOnZeroFeature(t *testing.T) {
	ref := models.NewVolume(12, 12, 1)
	init, _ := DiscStamp(ref, []models.Seed{{Row: 6, Col: 6, Radius: 2}})

	res, err := GeodesicActiveContour(context.Background(), init, models.NewVolume(12, 12, 1), GACParams{
		Propagation: 1,
		Curvature:   0.2,
		Advection:   4,
		MaxRMSError: 0.01,
		Iterations:  600,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !res.Converged || res.Iterations != 1 || res.RMSChange != 0 {
		t.Errorf("Expected immediate convergence, got %+v", res)
	}
	for i, x := range init.Data {
		if (x < 0) != (res.Phi.Data[i] <= 0) {
			t.Fatalf("Sign changed at voxel %d", i)
		}
	}
}

func TestEvolutionStopsAtFeatureBarrier(t *testing.T) {
	feature := models.NewVolume(30, 30, 1)
	for y := 5; y < 25; y++ {
		for x := 5; x < 25; x++ {
			feature.Set(x, y, 0, 1)
		}
	}
	init, _ := DiscStamp(feature, []models.Seed{{Row: 15, Col: 15, Radius: 3}})

	sd, err := ShapeDetection(context.Background(), init, feature, ShapeDetectionParams{
		MaxRMSError: 1e-9, Propagation: 1, Iterations: 200,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	gac, err := GeodesicActiveContour(context.Background(), init, feature, GACParams{
		Propagation: 1, Advection: 1, MaxRMSError: 1e-9, Iterations: 200,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for name, res := range map[string]*Result{"shape detection": sd, "geodesic active contour": gac} {
		if res.Phi.At(20, 15, 0) > 0 {
			t.Errorf("%s: expected the front to fill the region", name)
		}
		if res.Phi.At(1, 15, 0) <= 0 || res.Phi.At(15, 28, 0) <= 0 {
			t.Errorf("%s: expected the front to stop at the barrier", name)
		}
	}
}

func TestEvolutionErrors(t *testing.T) {
	init := filled(8, 8, 1, 0.5)
	feature := filled(8, 8, 1, 1)
	params := ShapeDetectionParams{MaxRMSError: 0.02, Propagation: 1, Iterations: 10}

	if _, err := ShapeDetection(context.Background(), init, filled(4, 8, 1, 1), params); errors.Cause(err) != ErrShape {
		t.Errorf("Expected ErrShape, got %v", err)
	}

	bad := params
	bad.Iterations = 0
	if _, err := ShapeDetection(context.Background(), init, feature, bad); errors.Cause(err) != ErrParameter {
		t.Errorf("Expected ErrParameter, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ShapeDetection(ctx, init, feature, params); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
