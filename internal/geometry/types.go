// Package geometry provides the coordinate types for detected face regions
// and the conversions between detector space and render-surface space.
package geometry

import "image"

// Point is a landmark position in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is a bounding box in corner format [x1, y1, x2, y2].
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width (never negative).
func (b Box) Width() float64 { return max(b.X2-b.X1, 0) }

// Height returns the box height (never negative).
func (b Box) Height() float64 { return max(b.Y2-b.Y1, 0) }

// Area returns the box area.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Rect rounds the box to an integer rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X1+0.5), int(b.Y1+0.5), int(b.X2+0.5), int(b.Y2+0.5))
}

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SizeOf returns the size of an image rectangle.
func SizeOf(r image.Rectangle) Size {
	return Size{Width: r.Dx(), Height: r.Dy()}
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Region is one face observation for one frame. Ephemeral: produced per
// detection tick and consumed by the renderer.
type Region struct {
	Box       Box     `json:"box"`
	Score     float64 `json:"score"`
	Landmarks []Point `json:"landmarks,omitempty"`
}
