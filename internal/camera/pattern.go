package camera

import (
	"context"
	"image"
	"image/color"
	"time"

	"github.com/kozaktomas/facecam/internal/geometry"
)

// PatternDevice produces synthetic frames: a diagonal gradient that scrolls
// one step per frame. It needs no hardware.
type PatternDevice struct {
	Size geometry.Size
	FPS  int
}

// NewPatternDevice creates a pattern device.
func NewPatternDevice(width, height, fps int) *PatternDevice {
	return &PatternDevice{Size: geometry.Size{Width: width, Height: height}, FPS: fps}
}

func (d *PatternDevice) Name() string { return "pattern" }

func (d *PatternDevice) Acquire(ctx context.Context) (Track, geometry.Size, error) {
	if err := ctx.Err(); err != nil {
		return nil, geometry.Size{}, err
	}
	fps := d.FPS
	if fps <= 0 {
		fps = 15
	}
	return &patternTrack{size: d.Size, interval: time.Second / time.Duration(fps)}, d.Size, nil
}

type patternTrack struct {
	size     geometry.Size
	interval time.Duration
}

func (t *patternTrack) Run(ctx context.Context, sink func(image.Image)) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for step := 0; ; step++ {
		sink(patternFrame(t.size, step))
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (t *patternTrack) Close() error { return nil }

func patternFrame(size geometry.Size, step int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			v := uint8((x + y + step*4) % 256)
			img.SetRGBA(x, y, color.RGBA{R: v, G: 255 - v, B: uint8(y % 256), A: 255})
		}
	}
	return img
}
