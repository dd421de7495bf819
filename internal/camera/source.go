// Package camera acquires and releases the live capture source.
package camera

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/facecam/internal/geometry"
)

// Track is the device side of an acquired stream.
type Track interface {
	// Run delivers frames to sink until ctx is cancelled or the device stops
	// producing. It returns nil on cancellation.
	Run(ctx context.Context, sink func(image.Image)) error
	// Close releases the underlying device.
	Close() error
}

// Device is a camera that can be acquired.
type Device interface {
	Name() string
	// Acquire opens the device. ctx bounds the acquisition only, the
	// returned track lives until it is closed.
	Acquire(ctx context.Context) (Track, geometry.Size, error)
}

// Source is an active capture source. Frames are read concurrently by the
// detection loop and the recording encoder.
type Source struct {
	size  geometry.Size
	track Track
	log   *logrus.Entry

	mu     sync.RWMutex
	frame  image.Image
	frames atomic.Uint64

	paused atomic.Bool
	ended  atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newSource(track Track, size geometry.Size, log *logrus.Entry) *Source {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		size:   size,
		track:  track,
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)
	defer s.ended.Store(true)

	err := s.track.Run(ctx, func(img image.Image) {
		s.mu.Lock()
		s.frame = img
		s.mu.Unlock()
		s.frames.Add(1)
	})
	if err != nil {
		s.log.WithError(err).Warn("camera track ended")
	}
}

// Frame returns the latest frame. ok is false before the first frame arrives.
func (s *Source) Frame() (image.Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.frame != nil
}

// Frames returns how many frames the source has delivered.
func (s *Source) Frames() uint64 {
	return s.frames.Load()
}

// Size returns the source resolution.
func (s *Source) Size() geometry.Size {
	return s.size
}

// Pause and Resume toggle the paused flag. A paused source keeps its last
// frame but consumers skip it.
func (s *Source) Pause()  { s.paused.Store(true) }
func (s *Source) Resume() { s.paused.Store(false) }

// Paused reports whether the source is paused.
func (s *Source) Paused() bool {
	return s.paused.Load()
}

// Ended reports whether the track has stopped producing frames.
func (s *Source) Ended() bool {
	return s.ended.Load()
}

// Done is closed when the track has stopped.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// stop cancels the track, waits for it and closes the device. Idempotent.
func (s *Source) stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		if err := s.track.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close camera track")
		}
	})
}
