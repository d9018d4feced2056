// Package viewer displays one slice of a volume at a time, with an optional
// label overlay and click markers, and renders the current state to images.
package viewer

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"

	"liverseg/internal/models"
	"liverseg/pkg/filters"
)

// Direction of a scroll event.
type Direction int

const (
	Down Direction = -1
	Up   Direction = 1
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// arrowLength is the offset of an arrow marker's head from the click, in
// pixels along both axes.
const arrowLength = 5

// OverlayPredicate reports whether an overlay value is drawn. Values for
// which it returns false are transparent.
type OverlayPredicate func(value float64) bool

// Above shows overlay values strictly greater than cutoff.
func Above(cutoff float64) OverlayPredicate {
	return func(value float64) bool { return value > cutoff }
}

// NotEqual hides the background value and shows everything else.
func NotEqual(background float64) OverlayPredicate {
	return func(value float64) bool { return value != background }
}

// NotMode treats the most frequent value of v as background.
func NotMode(v *models.Volume) OverlayPredicate {
	return NotEqual(mode(v.Data))
}

func mode(data []float64) float64 {
	counts := make(map[float64]int)
	var best float64
	bestCount := 0
	for _, x := range data {
		counts[x]++
		if c := counts[x]; c > bestCount || (c == bestCount && x < best) {
			best, bestCount = x, c
		}
	}
	return best
}

// SliceViewer tracks which slice of a volume is displayed.
type SliceViewer struct {
	volume  *models.Volume
	overlay *models.Volume
	show    OverlayPredicate
	index   int

	// Zoom scales rendered snapshots by an integer factor
	Zoom int
}

// NewSliceViewer starts at the middle slice of volume.
func NewSliceViewer(volume *models.Volume) *SliceViewer {
	return &SliceViewer{
		volume: volume,
		index:  volume.Depth / 2,
		Zoom:   1,
	}
}

// SetOverlay attaches an overlay that scrolls in lockstep with the volume.
func (v *SliceViewer) SetOverlay(overlay *models.Volume, show OverlayPredicate) error {
	if overlay.Width != v.volume.Width || overlay.Height != v.volume.Height || overlay.Depth != v.volume.Depth {
		return errors.Errorf("overlay is %dx%dx%d, volume is %dx%dx%d",
			overlay.Width, overlay.Height, overlay.Depth, v.volume.Width, v.volume.Height, v.volume.Depth)
	}
	if show == nil {
		show = NotMode(overlay)
	}
	v.overlay = overlay
	v.show = show
	return nil
}

// Index is the displayed slice.
func (v *SliceViewer) Index() int { return v.index }

// Depth is the number of slices that can be displayed.
func (v *SliceViewer) Depth() int { return v.volume.Depth }

// Title is the caption of the current slice.
func (v *SliceViewer) Title() string {
	return fmt.Sprintf("slice %d", v.index)
}

// Scroll moves one slice up or down, clamped to the volume, and returns the
// new index.
func (v *SliceViewer) Scroll(d Direction) int {
	if d == Up {
		v.index++
	} else {
		v.index--
	}
	v.index = max(0, min(v.index, v.volume.Depth-1))
	return v.index
}

// CurrentSlice returns a copy of the displayed slice.
func (v *SliceViewer) CurrentSlice() *models.Volume {
	s, _ := v.volume.Slice(v.index)
	return s
}

// CurrentOverlay returns the overlay slice with hidden values set to NaN,
// or nil when no overlay is attached.
func (v *SliceViewer) CurrentOverlay() *models.Volume {
	if v.overlay == nil {
		return nil
	}
	s, _ := v.overlay.Slice(v.index)
	for i, x := range s.Data {
		if !v.show(x) {
			s.Data[i] = math.NaN()
		}
	}
	return s
}

// ValueAt reports the pixel under (x, y) on the current slice, rounding to
// the nearest pixel centre.
func (v *SliceViewer) ValueAt(x, y float64) (float64, bool) {
	col, row := int(math.Floor(x+0.5)), int(math.Floor(y+0.5))
	if !v.volume.Contains(col, row, v.index) {
		return 0, false
	}
	return v.volume.At(col, row, v.index), true
}

// FormatCoord describes the cursor position and, inside the image, the
// value under it.
func (v *SliceViewer) FormatCoord(x, y float64) string {
	if value, ok := v.ValueAt(x, y); ok {
		return fmt.Sprintf("x=%1.2f, y=%1.2f, z=%1.2f", x, y, value)
	}
	return fmt.Sprintf("x=%1.2f, y=%1.2f", x, y)
}

// Render draws the current slice in grayscale, the visible overlay in red
// and the given markers.
func (v *SliceViewer) Render(markers []models.Marker) image.Image {
	base := GrayImage(v.CurrentSlice())
	canvas := image.NewRGBA(base.Bounds())
	draw.Draw(canvas, canvas.Bounds(), base, image.Point{}, draw.Src)

	if ov := v.CurrentOverlay(); ov != nil {
		tint := image.NewUniform(color.NRGBA{R: 255, A: 110})
		for y := 0; y < ov.Height; y++ {
			for x := 0; x < ov.Width; x++ {
				if !math.IsNaN(ov.At(x, y, 0)) {
					draw.Draw(canvas, image.Rect(x, y, x+1, y+1), tint, image.Point{}, draw.Over)
				}
			}
		}
	}

	dc := gg.NewContextForImage(canvas)
	dc.SetRGB(1, 0, 0)
	for _, m := range markers {
		drawMarker(dc, m)
	}

	img := dc.Image()
	if v.Zoom > 1 {
		img = imaging.Resize(img, img.Bounds().Dx()*v.Zoom, 0, imaging.NearestNeighbor)
	}
	return img
}

func drawMarker(dc *gg.Context, m models.Marker) {
	x, y := float64(m.X), float64(m.Y)
	switch m.Style.Kind {
	case models.DiscMarker:
		dc.DrawCircle(x, y, float64(m.Style.Radius))
		dc.Fill()
	default:
		tx, ty := x+arrowLength, y+arrowLength
		dc.SetLineWidth(1)
		dc.DrawLine(x, y, tx, ty)
		dc.Stroke()
		dc.MoveTo(x, y)
		dc.LineTo(x+2.5, y+0.5)
		dc.LineTo(x+0.5, y+2.5)
		dc.ClosePath()
		dc.Fill()
	}
}

// SavePNG writes a snapshot of the current state. The format follows the
// file extension.
func (v *SliceViewer) SavePNG(path string, markers []models.Marker) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create snapshot directory")
	}
	if err := imaging.Save(v.Render(markers), path); err != nil {
		return errors.Wrapf(err, "failed to save snapshot %s", path)
	}
	return nil
}

// GrayImage maps a single-slice volume linearly from its own value range to
// 8 bit grayscale. Non-finite values are drawn black.
func GrayImage(s *models.Volume) *image.Gray {
	scaled := filters.RescaleIntensity(s, 0, 255)
	img := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(scaled.At(x, y, 0)))})
		}
	}
	return img
}
