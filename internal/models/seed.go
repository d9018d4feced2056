package models

import "fmt"

// Seed is a user-picked start point for segmentation.
//
// Axis convention: Row is the image row (y), Col is the image column (x) and
// Slice is the index along z. A click at screen position (x, y) becomes
// Seed{Row: y, Col: x}.
type Seed struct {
	Row   int `yaml:"row"`
	Col   int `yaml:"col"`
	Slice int `yaml:"slice"`

	// Radius is used by the disc-stamp initializer and the distance
	// threshold window. Zero means unset.
	Radius int `yaml:"radius,omitempty"`
}

func (s Seed) String() string {
	return fmt.Sprintf("(row=%d, col=%d, slice=%d, r=%d)", s.Row, s.Col, s.Slice, s.Radius)
}

// MarkerKind selects how a click is annotated on screen.
type MarkerKind int

const (
	ArrowMarker MarkerKind = iota
	DiscMarker
)

// MarkerStyle is either Arrow or Disc(radius).
type MarkerStyle struct {
	Kind   MarkerKind
	Radius int
}

// Arrow returns the arrow marker style.
func Arrow() MarkerStyle {
	return MarkerStyle{Kind: ArrowMarker}
}

// Disc returns a filled circle marker of the given radius.
func Disc(radius int) MarkerStyle {
	return MarkerStyle{Kind: DiscMarker, Radius: radius}
}

func (m MarkerStyle) String() string {
	if m.Kind == DiscMarker {
		return fmt.Sprintf("disc(%d)", m.Radius)
	}
	return "arrow"
}

// Marker is an on-screen annotation for one click. Markers belong to the
// slice they were drawn on and are discarded when the slice changes.
type Marker struct {
	X, Y  int
	Style MarkerStyle
}
