package levelset

import (
	"math"

	"github.com/pkg/errors"

	"liverseg/internal/models"
)

// ErrSeed is wrapped when a seed lies outside the reference grid or is
// missing a required radius.
var ErrSeed = errors.New("invalid seed")

// Values of the signed initializer produced from a binary mask by
// mask -> -mask + 0.5.
const (
	InsideLevel  = -0.5
	OutsideLevel = 0.5
)

func checkSeeds(ref *models.Volume, seeds []models.Seed) error {
	if len(seeds) == 0 {
		return errors.Wrap(ErrSeed, "no seeds given")
	}
	for i, s := range seeds {
		if !ref.Contains(s.Col, s.Row, s.Slice) {
			return errors.Wrapf(ErrSeed, "seed %d %v outside %dx%dx%d grid", i, s, ref.Width, ref.Height, ref.Depth)
		}
		if s.Radius < 0 {
			return errors.Wrapf(ErrSeed, "seed %d has negative radius %d", i, s.Radius)
		}
	}
	return nil
}

// signedFromMask turns a 0/1 mask into the initial level set, interior
// negative.
func signedFromMask(mask *models.Volume) *models.Volume {
	out := mask.NewLike()
	for i, m := range mask.Data {
		out.Data[i] = -m + 0.5
	}
	return out
}

// DiscMask marks every voxel on a seed's slice whose index-space Euclidean
// distance to the seed is at most the seed radius.
func DiscMask(ref *models.Volume, seeds []models.Seed) (*models.Volume, error) {
	if err := checkSeeds(ref, seeds); err != nil {
		return nil, err
	}

	mask := ref.NewLike()
	for _, s := range seeds {
		r := s.Radius
		r2 := r * r
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if dx*dx+dy*dy > r2 {
					continue
				}
				x, y := s.Col+dx, s.Row+dy
				if ref.Contains(x, y, s.Slice) {
					mask.Set(x, y, s.Slice, 1)
				}
			}
		}
	}
	return mask, nil
}

// DiscStamp builds the initial level set from discs around the seeds.
func DiscStamp(ref *models.Volume, seeds []models.Seed) (*models.Volume, error) {
	mask, err := DiscMask(ref, seeds)
	if err != nil {
		return nil, err
	}
	return signedFromMask(mask), nil
}

// DistanceMap returns the signed distance, in physical units, from every
// voxel to the nearest seed. Seeds form the object and inside is not
// positive, so seed voxels are 0 and every other voxel is positive.
func DistanceMap(ref *models.Volume, seeds []models.Seed) (*models.Volume, error) {
	if err := checkSeeds(ref, seeds); err != nil {
		return nil, err
	}

	pts := make(Points3D, 0, len(seeds))
	for _, s := range seeds {
		pts = append(pts, voxelPoint(ref, float64(s.Col), float64(s.Row), float64(s.Slice)))
	}

	out := ref.NewLike()
	copy(out.Data, nearestDistances(ref, pts))
	return out, nil
}

// WindowUpperThreshold returns the largest distance-map value found inside
// the half-open window [row-r, row+r) x [col-r, col+r) on each seed's slice,
// maximised over all seeds. Windows are clipped to the grid.
func WindowUpperThreshold(dist *models.Volume, seeds []models.Seed) (float64, error) {
	if err := checkSeeds(dist, seeds); err != nil {
		return 0, err
	}

	upper := math.Inf(-1)
	for i, s := range seeds {
		if s.Radius < 1 {
			return 0, errors.Wrapf(ErrSeed, "seed %d needs a radius >= 1 for the distance window", i)
		}
		for y := max(s.Row-s.Radius, 0); y < min(s.Row+s.Radius, dist.Height); y++ {
			for x := max(s.Col-s.Radius, 0); x < min(s.Col+s.Radius, dist.Width); x++ {
				upper = math.Max(upper, dist.At(x, y, s.Slice))
			}
		}
	}
	return upper, nil
}

// DistanceThreshold builds the initial level set by thresholding the seed
// distance map to [0, upper], with upper taken from WindowUpperThreshold.
func DistanceThreshold(ref *models.Volume, seeds []models.Seed) (*models.Volume, error) {
	dist, err := DistanceMap(ref, seeds)
	if err != nil {
		return nil, err
	}

	upper, err := WindowUpperThreshold(dist, seeds)
	if err != nil {
		return nil, err
	}

	return ThresholdDistance(dist, 0, upper), nil
}

// ThresholdDistance maps distance values in [low, high] to the interior
// level and everything else to the exterior level.
func ThresholdDistance(dist *models.Volume, low, high float64) *models.Volume {
	mask := dist.NewLike()
	for i, d := range dist.Data {
		if d >= low && d <= high {
			mask.Data[i] = 1
		}
	}
	return signedFromMask(mask)
}
