// Package detection runs the periodic face detection task over the live
// capture source and renders the results onto the overlay surface.
package detection

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/geometry"
	"github.com/kozaktomas/facecam/internal/session"
)

// FrameSource is the capture source as seen by the loop.
type FrameSource interface {
	Frame() (image.Image, bool)
	Paused() bool
	Ended() bool
}

// Surface is where detected regions are drawn.
type Surface interface {
	Size() geometry.Size
	Clear()
	Render(regions []geometry.Region)
}

// Stats counts ticks by outcome.
type Stats struct {
	Ticks   uint64 `json:"ticks"`
	Runs    uint64 `json:"runs"`
	Skipped uint64 `json:"skipped"` // tick arrived while the previous run was in flight
	Idle    uint64 `json:"idle"`    // source paused, ended or without a frame
	Errors  uint64 `json:"errors"`
}

// Loop schedules detection at a fixed period. At most one detection runs at
// a time; ticks that arrive while one is in flight are dropped.
type Loop struct {
	detector detector.Detector
	surface  Surface
	interval time.Duration
	minScore float64
	onError  func(error)
	log      *logrus.Entry

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	busy     atomic.Bool
	inflight sync.WaitGroup

	ticks, runs, skipped, idle, errs atomic.Uint64
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithMinScore sets the score below which regions are dropped. Zero keeps
// every region.
func WithMinScore(score float64) Option {
	return func(l *Loop) {
		if score >= 0 {
			l.minScore = score
		}
	}
}

// WithErrorHandler sets the callback that receives detection failures.
func WithErrorHandler(fn func(error)) Option {
	return func(l *Loop) { l.onError = fn }
}

// NewLoop creates a stopped loop.
func NewLoop(d detector.Detector, surface Surface, log *logrus.Entry, opts ...Option) *Loop {
	l := &Loop{
		detector: d,
		surface:  surface,
		interval: constants.DefaultDetectionInterval,
		minScore: constants.MinDetectionScore,
		onError:  func(error) {},
		log:      log.WithField("component", "detection"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start begins ticking over src. Starting a running loop is a no-op.
func (l *Loop) Start(ctx context.Context, src FrameSource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, src, l.done)

	l.log.WithField("interval", l.interval.String()).Info("detection started")
}

// Stop cancels the ticker and waits for an in-flight detection to finish.
// The overlay is cleared afterwards. Stopping a stopped loop is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.inflight.Wait()
	l.surface.Clear()

	l.log.Info("detection stopped")
}

// Running reports whether the loop is ticking.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Stats returns tick counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:   l.ticks.Load(),
		Runs:    l.runs.Load(),
		Skipped: l.skipped.Load(),
		Idle:    l.idle.Load(),
		Errors:  l.errs.Load(),
	}
}

func (l *Loop) run(ctx context.Context, src FrameSource, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.ticks.Add(1)
			if !l.busy.CompareAndSwap(false, true) {
				l.skipped.Add(1)
				continue
			}
			l.inflight.Add(1)
			go func() {
				defer l.inflight.Done()
				defer l.busy.Store(false)
				l.tick(ctx, src)
			}()
		}
	}
}

func (l *Loop) tick(ctx context.Context, src FrameSource) {
	if src.Paused() || src.Ended() {
		l.idle.Add(1)
		return
	}
	frame, ok := src.Frame()
	if !ok {
		l.idle.Add(1)
		return
	}

	l.runs.Add(1)
	res, err := l.detector.DetectAll(ctx, frame)
	if ctx.Err() != nil {
		// Stopped while detecting, the result is stale.
		return
	}
	if err != nil {
		l.errs.Add(1)
		l.log.WithError(err).Warn("detection failed")
		l.onError(session.E(session.KindDetection, "detection.Tick", "face detection failed", err))
		return
	}

	l.surface.Render(Process(res, l.surface.Size(), l.minScore))
}

// Process converts a detection result into surface-space regions: every
// region is rescaled from the capability resolution to target, then
// overlapping duplicates and regions scoring below minScore are dropped.
func Process(res *detector.Result, target geometry.Size, minScore float64) []geometry.Region {
	if res == nil || len(res.Regions) == 0 {
		return nil
	}
	from := res.Size
	if !from.Valid() {
		from = target
	}
	scaled := geometry.ScaleRegions(res.Regions, from, target)
	return geometry.SuppressDuplicates(scaled, constants.DuplicateIoUThreshold, minScore)
}
