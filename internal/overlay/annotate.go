package overlay

import "image"

// Stream is a live frame source.
type Stream interface {
	Frame() (image.Image, bool)
	Paused() bool
	Done() <-chan struct{}
}

// Annotated is a Stream whose frames carry the current overlay.
type Annotated struct {
	Stream
	surface *Surface
}

// Annotate wraps src so every frame is composited with the surface.
func (s *Surface) Annotate(src Stream) *Annotated {
	return &Annotated{Stream: src, surface: s}
}

// Frame returns the latest source frame with the overlay drawn over it.
func (a *Annotated) Frame() (image.Image, bool) {
	frame, ok := a.Stream.Frame()
	if !ok {
		return nil, false
	}
	return a.surface.Composite(frame), true
}
