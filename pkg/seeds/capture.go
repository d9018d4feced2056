// Package seeds captures segmentation seed points from scroll and click
// events on a slice viewer, and stores them as YAML.
package seeds

import (
	"math"

	"github.com/pkg/errors"

	"liverseg/internal/models"
	"liverseg/pkg/viewer"
)

var (
	// ErrOutside is returned for clicks that miss the image.
	ErrOutside = errors.New("click outside the image")

	// ErrNoSeed is returned when a seed index does not exist.
	ErrNoSeed = errors.New("no such seed")
)

// Capture is the seed picking state. It is only changed by OnClick and
// OnScroll (plus SetRadius for later edits) and is not safe for concurrent
// use.
type Capture struct {
	viewer  *viewer.SliceViewer
	style   models.MarkerStyle
	seeds   []models.Seed
	markers []models.Marker
}

// NewCapture starts a capture on v. Clicks are annotated with style, and a
// disc style also sets the radius of every captured seed.
func NewCapture(v *viewer.SliceViewer, style models.MarkerStyle) *Capture {
	return &Capture{viewer: v, style: style}
}

// Viewer returns the underlying viewer.
func (c *Capture) Viewer() *viewer.SliceViewer { return c.viewer }

// OnClick records a seed at screen position (x, y) on the current slice.
// Coordinates are rounded to the nearest pixel; x becomes the column and y
// the row.
func (c *Capture) OnClick(x, y float64) (models.Seed, error) {
	col, row := int(math.Round(x)), int(math.Round(y))
	s := c.viewer.CurrentSlice()
	if !s.Contains(col, row, 0) {
		return models.Seed{}, errors.Wrapf(ErrOutside, "(%g, %g) not in %dx%d", x, y, s.Width, s.Height)
	}

	seed := models.Seed{Row: row, Col: col, Slice: c.viewer.Index()}
	if c.style.Kind == models.DiscMarker {
		seed.Radius = c.style.Radius
	}
	c.seeds = append(c.seeds, seed)
	c.markers = append(c.markers, models.Marker{X: col, Y: row, Style: c.style})
	return seed, nil
}

// OnScroll changes the slice and drops the markers drawn on the old one.
// Captured seeds are kept.
func (c *Capture) OnScroll(d viewer.Direction) int {
	idx := c.viewer.Scroll(d)
	c.markers = nil
	return idx
}

// SetRadius changes the radius of seed i.
func (c *Capture) SetRadius(i, radius int) error {
	if i < 0 || i >= len(c.seeds) {
		return errors.Wrapf(ErrNoSeed, "index %d, have %d seeds", i, len(c.seeds))
	}
	if radius < 0 {
		return errors.Errorf("radius must be >= 0, got %d", radius)
	}
	c.seeds[i].Radius = radius
	return nil
}

// Seeds returns a copy of the captured seeds in click order.
func (c *Capture) Seeds() []models.Seed {
	return append([]models.Seed(nil), c.seeds...)
}

// Markers returns the markers visible on the current slice.
func (c *Capture) Markers() []models.Marker {
	return append([]models.Marker(nil), c.markers...)
}
