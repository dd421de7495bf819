// Package studio wires the capture source, detection loop and recording
// pipeline together around a single session state. Every state change goes
// through session.Reduce on one goroutine; the effects it returns are run
// there too, so the components never observe each other half-updated.
package studio

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/facecam/internal/camera"
	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/detection"
	"github.com/kozaktomas/facecam/internal/overlay"
	"github.com/kozaktomas/facecam/internal/recording"
	"github.com/kozaktomas/facecam/internal/session"
)

// ModelLoader loads the detection capability once.
type ModelLoader interface {
	Load(ctx context.Context) error
}

// ArtifactStore persists the last recording.
type ArtifactStore interface {
	Save(ctx context.Context, art *recording.Artifact) error
	Load(ctx context.Context) (*recording.Artifact, error)
}

// Camera is the capture source controller.
type Camera interface {
	Enable(ctx context.Context) (*camera.Source, error)
	Disable()
	Close()
	Source() *camera.Source
}

// Deps are the components a Studio drives.
type Deps struct {
	Loader    ModelLoader
	Camera    Camera
	Detection *detection.Loop
	Encoders  recording.EncoderFactory
	Artifacts ArtifactStore
	// Surface, when set, is composited over camera frames before encoding.
	Surface *overlay.Surface
}

type request struct {
	ev    session.Event
	op    session.Op // checked with session.Allowed before the event is applied
	guard func() bool
	reply chan result
	wait  chan error // notified once a pending acquisition settles
}

type result struct {
	state session.State
	err   error
}

// Studio is the session orchestrator.
type Studio struct {
	deps     Deps
	pipeline *recording.Pipeline
	log      *logrus.Entry

	requests chan request
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	bg       sync.WaitGroup
	persists sync.WaitGroup

	// Owned by the run goroutine.
	waiters []chan error

	mu        sync.RWMutex
	state     session.State
	listeners []chan session.State

	closeOnce sync.Once
}

// New creates a Studio and starts its event loop. Detection failures are fed
// back by wiring the loop's error handler to Report.
func New(deps Deps, opts Options, log *logrus.Entry) *Studio {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Studio{
		deps:     deps,
		log:      log.WithField("component", "studio"),
		requests: make(chan request),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    session.Initial(),
	}
	s.pipeline = recording.NewPipeline(deps.Encoders, opts.Format, log,
		recording.WithFilePrefix(opts.FilePrefix),
		recording.WithExtension(opts.Extension),
		recording.WithFinalizeHandler(s.onFinalized),
	)

	go s.run()
	return s
}

// Options configures the recording side of a Studio.
type Options struct {
	Format     string // output MIME type
	Extension  string // download file extension
	FilePrefix string
}

// Start restores the persisted artifact and begins loading the detection
// capability in the background.
func (s *Studio) Start(ctx context.Context) {
	if art, err := s.deps.Artifacts.Load(ctx); err != nil {
		s.log.WithError(err).Warn("failed to restore last recording")
		s.post(session.Event{Type: session.EventErrorRaised, Err: err}, nil)
	} else if art != nil {
		s.pipeline.Restore(art)
		s.post(session.Event{Type: session.EventArtifactRestored, Artifact: art.Ref()}, nil)
		s.log.WithField("id", art.ID).Info("restored last recording")
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := s.deps.Loader.Load(s.ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.post(session.Event{Type: session.EventModelsFailed, Err: err}, nil)
			return
		}
		s.post(session.Event{Type: session.EventModelsLoaded}, nil)
	}()
}

// Enable acquires the camera and waits until the acquisition settles or
// ctx ends.
func (s *Studio) Enable(ctx context.Context) (session.State, error) {
	wait := make(chan error, 1)
	res := s.send(ctx, request{ev: session.Event{Type: session.EventCameraRequested}, wait: wait})
	if res.err != nil {
		return res.state, res.err
	}
	select {
	case err := <-wait:
		return s.State(), err
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// Disable releases the camera. Detection stops first and an active
// recording is forced into finalizing.
func (s *Studio) Disable(ctx context.Context) (session.State, error) {
	res := s.send(ctx, request{ev: session.Event{Type: session.EventCameraReleased}})
	return res.state, res.err
}

// StartRecording starts a recording of the live source.
func (s *Studio) StartRecording(ctx context.Context) (session.State, error) {
	res := s.send(ctx, request{ev: session.Event{Type: session.EventRecordRequested}, op: session.OpStartRecording})
	return res.state, res.err
}

// StopRecording asks the encoder to finish. The artifact appears once the
// pipeline has finalized, see WaitIdle.
func (s *Studio) StopRecording(ctx context.Context) (session.State, error) {
	res := s.send(ctx, request{ev: session.Event{Type: session.EventStopRequested}, op: session.OpStopRecording})
	return res.state, res.err
}

// WaitIdle blocks until no recording is active or finalizing and its
// artifact has been handed to storage.
func (s *Studio) WaitIdle(ctx context.Context) error {
	if err := s.pipeline.Wait(ctx); err != nil {
		return err
	}
	// Persisting runs in the background after finalize.
	done := make(chan struct{})
	go func() {
		s.persists.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Download returns the current artifact.
func (s *Studio) Download() (*recording.Download, error) {
	return s.pipeline.Download()
}

// State returns a snapshot of the session state.
func (s *Studio) State() session.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Source returns the live capture source or nil.
func (s *Studio) Source() *camera.Source {
	return s.deps.Camera.Source()
}

// Frame returns the latest camera frame, if a camera is live.
func (s *Studio) Frame() (image.Image, bool) {
	src := s.deps.Camera.Source()
	if src == nil {
		return nil, false
	}
	return src.Frame()
}

// Report raises err into the session's last error slot. It never blocks,
// so it is safe to call from the detection loop.
func (s *Studio) Report(err error) {
	if err == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.post(session.Event{Type: session.EventErrorRaised, Err: err}, nil)
	}()
}

// Subscribe returns a channel receiving every new state. Slow listeners
// miss intermediate states.
func (s *Studio) Subscribe() chan session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan session.State, constants.EventChannelBuffer)
	s.listeners = append(s.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a listener.
func (s *Studio) Unsubscribe(ch chan session.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, listener := range s.listeners {
		if listener == ch {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Close tears the session down: detection stops, an active recording is
// finalized and persisted, the camera is released and the event loop exits.
// Safe to call more than once.
func (s *Studio) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.send(ctx, request{ev: session.Event{Type: session.EventCameraReleased}})
		if werr := s.WaitIdle(ctx); werr != nil {
			err = werr
			s.log.WithError(werr).Warn("recording did not finalize before shutdown")
		}

		s.cancel()
		<-s.done
		s.deps.Detection.Stop()
		s.deps.Camera.Close()
		s.bg.Wait()

		s.mu.Lock()
		for _, ch := range s.listeners {
			close(ch)
		}
		s.listeners = nil
		s.mu.Unlock()

		s.log.Info("session closed")
	})
	return err
}

func (s *Studio) send(ctx context.Context, req request) result {
	req.reply = make(chan result, 1)
	select {
	case s.requests <- req:
	case <-s.ctx.Done():
		return result{state: s.State(), err: session.ErrClosed}
	case <-ctx.Done():
		return result{state: s.State(), err: ctx.Err()}
	}
	return <-req.reply
}

// post delivers an event from a background goroutine. It gives up once the
// studio is closed.
func (s *Studio) post(ev session.Event, guard func() bool) {
	select {
	case s.requests <- request{ev: ev, guard: guard}:
	case <-s.ctx.Done():
	}
}

func (s *Studio) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.flushWaiters(session.ErrClosed)
			return
		case req := <-s.requests:
			res := s.handle(req)
			if req.reply != nil {
				req.reply <- res
			}
		}
	}
}

func (s *Studio) handle(req request) result {
	if req.guard != nil && !req.guard() {
		return result{state: s.State()}
	}

	var opErr error
	if req.op != "" {
		opErr = session.Allowed(s.State(), req.op)
	}
	err := s.apply(req.ev)
	if opErr != nil {
		err = opErr
	}

	st := s.State()
	if req.wait != nil {
		if st.Camera == session.CameraStarting {
			s.waiters = append(s.waiters, req.wait)
		} else {
			req.wait <- nil
		}
	}
	return result{state: st, err: err}
}

// apply reduces one event, runs its effects and publishes the new state.
// Effects that fail feed their own events back through apply.
func (s *Studio) apply(ev session.Event) error {
	s.mu.Lock()
	prev := s.state
	next, effects := session.Reduce(prev, ev)
	s.state = next
	s.mu.Unlock()

	if next != prev {
		s.publish(next)
	}
	if prev.Camera == session.CameraStarting && next.Camera != session.CameraStarting {
		s.settleWaiters(ev, next)
	}

	var firstErr error
	for _, eff := range effects {
		if err := s.execute(eff); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Studio) execute(eff session.Effect) error {
	log := s.log.WithField("effect", string(eff))
	log.Debug("running effect")

	switch eff {
	case session.EffectAcquireCamera:
		s.bg.Add(1)
		go s.acquire(s.State().CameraGen)

	case session.EffectReleaseCamera:
		s.deps.Camera.Disable()

	case session.EffectStartDetection:
		src := s.deps.Camera.Source()
		if src == nil {
			// The stream went away between acquisition and now. Report the
			// camera as released so the state stops claiming detection runs.
			log.Warn("detection gated on but no source is active")
			_ = s.apply(session.Event{
				Type: session.EventCameraReleased,
				Err:  session.E(session.KindNoSource, "detection.Start", "camera source is gone", nil),
			})
			return nil
		}
		s.deps.Detection.Start(s.ctx, src)

	case session.EffectStopDetection:
		s.deps.Detection.Stop()

	case session.EffectStartEncoder:
		var src recording.FrameSource
		if cam := s.deps.Camera.Source(); cam != nil {
			src = cam
			if s.deps.Surface != nil {
				src = s.deps.Surface.Annotate(cam)
			}
		}
		if err := s.pipeline.Start(src); err != nil {
			_ = s.apply(session.Event{Type: session.EventRecordFailed, Err: err})
			return err
		}

	case session.EffectStopEncoder:
		if err := s.pipeline.Stop(); err != nil {
			log.WithError(err).Debug("encoder already stopping")
		}

	case session.EffectPersistArtifact:
		art := s.pipeline.Artifact()
		if art == nil {
			return nil
		}
		s.persists.Add(1)
		go s.persist(art)
	}
	return nil
}

// acquire runs one camera acquisition for generation gen. Results from a
// generation that a later disable superseded are dropped by Reduce.
func (s *Studio) acquire(gen uint64) {
	defer s.bg.Done()

	src, err := s.deps.Camera.Enable(s.ctx)
	if err != nil {
		s.post(session.Event{Type: session.EventCameraFailed, Err: err, Gen: gen}, nil)
		return
	}
	s.post(session.Event{Type: session.EventCameraAcquired, Gen: gen}, nil)

	// The track can die on its own, ex: an IP camera going offline.
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		select {
		case <-src.Done():
		case <-s.ctx.Done():
			return
		}
		s.post(session.Event{
			Type: session.EventCameraReleased,
			Err:  errors.New("camera stream ended"),
		}, func() bool { return s.deps.Camera.Source() == src })
	}()
}

func (s *Studio) persist(art *recording.Artifact) {
	defer s.persists.Done()

	ctx, cancel := context.WithTimeout(context.Background(), constants.PersistTimeout)
	defer cancel()

	if err := s.deps.Artifacts.Save(ctx, art); err != nil {
		s.log.WithError(err).WithField("id", art.ID).Warn("failed to persist recording")
		s.post(session.Event{Type: session.EventPersistFailed, Err: err}, nil)
		return
	}
	s.log.WithField("id", art.ID).Info("recording persisted")
}

// onFinalized runs before the pipeline reports idle, so waiting for the
// event to be handled guarantees WaitIdle also covers the persist.
func (s *Studio) onFinalized(art *recording.Artifact) {
	s.send(context.Background(), request{ev: session.Event{Type: session.EventFinalized, Artifact: art.Ref()}})
}

func (s *Studio) settleWaiters(ev session.Event, next session.State) {
	var err error
	switch {
	case next.Camera == session.CameraOn:
	case ev.Err != nil:
		err = ev.Err
	default:
		err = session.E(session.KindAcquire, "camera.Enable", "camera disabled while starting", nil)
	}
	s.flushWaiters(err)
}

func (s *Studio) flushWaiters(err error) {
	for _, w := range s.waiters {
		w <- err
	}
	s.waiters = nil
}

func (s *Studio) publish(st session.State) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, listener := range s.listeners {
		select {
		case listener <- st:
		default:
			// Listener buffer full, skip.
		}
	}
}
