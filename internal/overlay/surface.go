// Package overlay is the render surface detected regions are drawn on.
// The surface is a transparent layer the size of the display; Composite
// places it over a camera frame for presentation and recording.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/geometry"
)

var (
	boxColor      = color.RGBA{R: 0, G: 217, B: 255, A: 255}
	landmarkColor = color.RGBA{R: 255, G: 64, B: 129, A: 255}
	labelColor    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const (
	boxStroke    = 2
	landmarkSize = 3
)

// Surface holds the overlay layer. Safe for concurrent use.
type Surface struct {
	mu      sync.RWMutex
	layer   *image.RGBA
	regions []geometry.Region
	renders uint64

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

// NewSurface creates a transparent surface of the given size.
func NewSurface(size geometry.Size) *Surface {
	return &Surface{
		layer: image.NewRGBA(image.Rect(0, 0, size.Width, size.Height)),
		subs:  make(map[chan struct{}]struct{}),
	}
}

// Size returns the surface resolution.
func (s *Surface) Size() geometry.Size {
	return geometry.SizeOf(s.layer.Bounds())
}

// Clear erases the layer.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.regions = nil
}

func (s *Surface) clearLocked() {
	draw.Draw(s.layer, s.layer.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

// Render clears the previous overlay and draws regions, which must already
// be in surface coordinates. Subscribers are notified afterwards.
func (s *Surface) Render(regions []geometry.Region) {
	s.mu.Lock()
	s.clearLocked()
	size := geometry.SizeOf(s.layer.Bounds())
	for _, r := range regions {
		box := geometry.ClampBox(r.Box, size)
		drawOutline(s.layer, box.Rect(), boxColor)
		for _, p := range r.Landmarks {
			drawDot(s.layer, p, landmarkColor)
		}
		drawLabel(s.layer, box, fmt.Sprintf("%.0f%%", r.Score*100))
	}
	s.regions = append(s.regions[:0], regions...)
	s.renders++
	s.mu.Unlock()

	s.notify()
}

// Regions returns the regions of the last render.
func (s *Surface) Regions() []geometry.Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]geometry.Region, len(s.regions))
	copy(out, s.regions)
	return out
}

// Renders returns how many times Render has run.
func (s *Surface) Renders() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.renders
}

// Composite scales frame to the surface size and draws the overlay over it.
// A nil frame yields the overlay on black.
func (s *Surface) Composite(frame image.Image) *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := image.NewRGBA(s.layer.Bounds())
	draw.Draw(out, out.Bounds(), image.Black, image.Point{}, draw.Src)
	if frame != nil {
		draw.ApproxBiLinear.Scale(out, out.Bounds(), frame, frame.Bounds(), draw.Src, nil)
	}
	draw.Draw(out, out.Bounds(), s.layer, image.Point{}, draw.Over)
	return out
}

// CompositeJPEG is Composite encoded as JPEG.
func (s *Surface) CompositeJPEG(frame image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.Composite(frame), &jpeg.Options{Quality: constants.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode overlay: %w", err)
	}
	return buf.Bytes(), nil
}

// Subscribe returns a channel signalled after every render. Signals are
// coalesced when the subscriber is slow. Call the returned func to unsubscribe.
func (s *Surface) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
		})
	}
}

func (s *Surface) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Already signalled.
		}
	}
}

func drawOutline(dst draw.Image, r image.Rectangle, c color.Color) {
	if r.Empty() {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+boxStroke),
		image.Rect(r.Min.X, r.Max.Y-boxStroke, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+boxStroke, r.Max.Y),
		image.Rect(r.Max.X-boxStroke, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

func drawDot(dst draw.Image, p geometry.Point, c color.Color) {
	x, y := int(p.X), int(p.Y)
	r := image.Rect(x-landmarkSize/2, y-landmarkSize/2, x+landmarkSize/2+1, y+landmarkSize/2+1)
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

func drawLabel(dst draw.Image, box geometry.Box, text string) {
	face := basicfont.Face7x13
	y := int(box.Y1) - 3
	if y < face.Ascent {
		y = int(box.Y2) + face.Ascent
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(int(box.X1), y),
	}
	d.DrawString(text)
}
