package studio

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/facecam/internal/camera"
	"github.com/kozaktomas/facecam/internal/capability"
	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/detection"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/geometry"
	"github.com/kozaktomas/facecam/internal/logger"
	"github.com/kozaktomas/facecam/internal/overlay"
	"github.com/kozaktomas/facecam/internal/recording"
	"github.com/kozaktomas/facecam/internal/session"
	"github.com/kozaktomas/facecam/internal/storage"
)

const waitFor = 2 * time.Second

type fakeAssets struct {
	err     error
	release chan struct{}
}

func (f *fakeAssets) LoadAssets(ctx context.Context, location string) error {
	if f.release != nil {
		<-f.release
	}
	return f.err
}

type fakeDetector struct {
	err   error
	calls atomic.Int32
}

func (d *fakeDetector) DetectAll(ctx context.Context, frame image.Image) (*detector.Result, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return &detector.Result{
		Size:    geometry.Size{Width: 32, Height: 24},
		Regions: []geometry.Region{{Box: geometry.Box{X1: 4, Y1: 4, X2: 16, Y2: 16}, Score: 0.9}},
	}, nil
}

type deniedDevice struct{}

func (deniedDevice) Name() string { return "denied" }
func (deniedDevice) Acquire(context.Context) (camera.Track, geometry.Size, error) {
	return nil, geometry.Size{}, errors.New("permission denied")
}

// slowDevice delays every acquisition of the wrapped device.
type slowDevice struct {
	inner   camera.Device
	delay   time.Duration
	entered chan struct{}
}

func (d *slowDevice) Name() string { return "slow" }

func (d *slowDevice) Acquire(ctx context.Context) (camera.Track, geometry.Size, error) {
	if d.entered != nil {
		select {
		case d.entered <- struct{}{}:
		default:
		}
	}
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return nil, geometry.Size{}, ctx.Err()
	}
	return d.inner.Acquire(ctx)
}

type manualEncoder struct {
	ch      chan []byte
	stopped chan struct{}
	once    sync.Once
}

func (e *manualEncoder) Chunks() <-chan []byte { return e.ch }
func (e *manualEncoder) MIME() string          { return recording.MIMEMotionJPEG }
func (e *manualEncoder) Stop()                 { e.once.Do(func() { close(e.stopped) }) }

type manualFactory struct {
	mu       sync.Mutex
	encoders []*manualEncoder
}

func (f *manualFactory) New(src recording.FrameSource, mime string) (recording.Encoder, error) {
	if mime != recording.MIMEMotionJPEG {
		return nil, session.E(session.KindEncoderUnsupported, "recording.Start", "unsupported", nil)
	}
	e := &manualEncoder{ch: make(chan []byte), stopped: make(chan struct{})}
	f.mu.Lock()
	f.encoders = append(f.encoders, e)
	f.mu.Unlock()
	return e, nil
}

func (f *manualFactory) last(t *testing.T) *manualEncoder {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.encoders)
	return f.encoders[len(f.encoders)-1]
}

type harness struct {
	studio   *Studio
	camera   *camera.Controller
	loop     *detection.Loop
	detector *fakeDetector
	kv       storage.KV
	encoders *manualFactory
}

type harnessConfig struct {
	device   camera.Device
	assets   *fakeAssets
	detector *fakeDetector
	quota    int
	encoders recording.EncoderFactory
	format   string
	kv       storage.KV
}

func newHarness(t *testing.T, opts ...func(*harnessConfig)) *harness {
	t.Helper()
	hc := &harnessConfig{
		device:   camera.NewPatternDevice(32, 24, 30),
		assets:   &fakeAssets{},
		detector: &fakeDetector{},
		format:   recording.MIMEMotionJPEG,
	}
	for _, opt := range opts {
		opt(hc)
	}
	if hc.kv == nil {
		hc.kv = storage.NewMemory()
	}
	manual := &manualFactory{}
	if hc.encoders == nil {
		hc.encoders = manual
	}

	log := logger.Discard()
	surface := overlay.NewSurface(geometry.Size{Width: 32, Height: 24})
	cam := camera.NewController(hc.device, log)

	var st *Studio
	loop := detection.NewLoop(hc.detector, surface, log,
		detection.WithInterval(5*time.Millisecond),
		detection.WithErrorHandler(func(err error) { st.Report(err) }))

	st = New(Deps{
		Loader:    capability.NewLoader(hc.assets, "/models/manifest.json", log),
		Camera:    cam,
		Detection: loop,
		Encoders:  hc.encoders,
		Artifacts: storage.NewArtifacts(storage.WithQuota(hc.kv, hc.quota)),
		Surface:   surface,
	}, Options{Format: hc.format, Extension: "mjpeg", FilePrefix: "test"}, log)
	st.Start(context.Background())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = st.Close(ctx)
	})

	return &harness{studio: st, camera: cam, loop: loop, detector: hc.detector, kv: hc.kv, encoders: manual}
}

func (h *harness) eventually(t *testing.T, cond func(session.State) bool, msg string) {
	t.Helper()
	assert.Eventually(t, func() bool { return cond(h.studio.State()) }, waitFor, 5*time.Millisecond, msg)
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.studio.WaitIdle(ctx))
}

func TestEnable_StartsDetectionOnceModelsReady(t *testing.T) {
	assets := &fakeAssets{release: make(chan struct{})}
	h := newHarness(t, func(c *harnessConfig) { c.assets = assets })

	st, err := h.studio.Enable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.CameraOn, st.Camera)
	assert.NotNil(t, h.studio.Source())

	// Camera on but models still loading.
	time.Sleep(30 * time.Millisecond)
	assert.False(t, h.studio.State().Detecting)
	assert.False(t, h.loop.Running())
	assert.Zero(t, h.detector.calls.Load())

	close(assets.release)
	h.eventually(t, func(s session.State) bool { return s.ModelsReady && s.Detecting }, "detection should start")
	assert.Eventually(t, func() bool { return h.detector.calls.Load() > 0 }, waitFor, 5*time.Millisecond)
	assert.True(t, h.loop.Running())
}

func TestModelsFirst_CameraLater(t *testing.T) {
	h := newHarness(t)
	h.eventually(t, func(s session.State) bool { return s.ModelsReady }, "models should load")
	assert.False(t, h.studio.State().Detecting)

	_, err := h.studio.Enable(context.Background())
	require.NoError(t, err)
	h.eventually(t, func(s session.State) bool { return s.Detecting }, "detection should start")
}

func TestLoadFailure_NoDetection(t *testing.T) {
	h := newHarness(t, func(c *harnessConfig) { c.assets = &fakeAssets{err: errors.New("manifest missing")} })

	h.eventually(t, func(s session.State) bool { return s.LoadFailed }, "load should fail")
	st := h.studio.State()
	assert.False(t, st.ModelsReady)
	assert.Contains(t, st.LastError, "manifest missing")

	_, err := h.studio.Enable(context.Background())
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, h.studio.State().Detecting)
	assert.Zero(t, h.detector.calls.Load())
}

func TestEnable_Denied(t *testing.T) {
	h := newHarness(t, func(c *harnessConfig) { c.device = deniedDevice{} })

	st, err := h.studio.Enable(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrAcquire))
	assert.Equal(t, session.CameraOff, st.Camera)
	assert.Contains(t, st.LastError, "permission denied")
	assert.Nil(t, h.studio.Source())
}

func TestEnable_ConcurrentCallsShareOneAcquisition(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.studio.Enable(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), h.camera.Stats().Acquired)
	assert.Equal(t, session.CameraOn, h.studio.State().Camera)
}

func TestDisable_IsIdempotentAndStopsDetection(t *testing.T) {
	h := newHarness(t)

	st, err := h.studio.Disable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.CameraOff, st.Camera)

	_, err = h.studio.Enable(context.Background())
	require.NoError(t, err)
	h.eventually(t, func(s session.State) bool { return s.Detecting }, "detection should start")

	_, err = h.studio.Disable(context.Background())
	require.NoError(t, err)
	_, err = h.studio.Disable(context.Background())
	require.NoError(t, err)

	st = h.studio.State()
	assert.Equal(t, session.CameraOff, st.Camera)
	assert.False(t, st.Detecting)
	assert.False(t, h.loop.Running())
	assert.Nil(t, h.studio.Source())
	assert.Equal(t, camera.Stats{Acquired: 1, Released: 1}, h.camera.Stats())
}

func TestEnable_AfterDisableWhileStarting(t *testing.T) {
	dev := &slowDevice{
		inner:   camera.NewPatternDevice(32, 24, 30),
		delay:   50 * time.Millisecond,
		entered: make(chan struct{}, 4),
	}
	h := newHarness(t, func(c *harnessConfig) { c.device = dev })
	h.eventually(t, func(s session.State) bool { return s.ModelsReady }, "models should load")

	firstErr := make(chan error, 1)
	go func() {
		_, err := h.studio.Enable(context.Background())
		firstErr <- err
	}()
	<-dev.entered

	st, err := h.studio.Disable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.CameraOff, st.Camera)

	st, err = h.studio.Enable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.CameraOn, st.Camera)
	assert.NotNil(t, h.studio.Source())

	err = <-firstErr
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindAcquire))

	h.eventually(t, func(s session.State) bool { return s.Detecting }, "detection should start")
	assert.True(t, h.loop.Running())
	assert.Eventually(t, func() bool {
		return h.camera.Stats() == camera.Stats{Acquired: 2, Released: 1}
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, session.CameraOn, h.studio.State().Camera)
}

func TestCameraToggle_RapidSequences(t *testing.T) {
	tests := []struct {
		name   string
		toggle int
		endOn  bool
	}{
		{"ends on", 6, true},
		{"ends off", 6, false},
		{"single round ends on", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &slowDevice{inner: camera.NewPatternDevice(32, 24, 30), delay: 15 * time.Millisecond}
			h := newHarness(t, func(c *harnessConfig) { c.device = dev })
			h.eventually(t, func(s session.State) bool { return s.ModelsReady }, "models should load")

			var overlap atomic.Bool
			stopWatch := make(chan struct{})
			watched := make(chan struct{})
			go func() {
				defer close(watched)
				for {
					select {
					case <-stopWatch:
						return
					case <-time.After(time.Millisecond):
					}
					if st := h.camera.Stats(); st.Acquired-st.Released > 1 {
						overlap.Store(true)
					}
				}
			}()

			var wg sync.WaitGroup
			for i := 0; i < tt.toggle; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = h.studio.Enable(context.Background())
				}()
				h.eventually(t, func(s session.State) bool { return s.Camera != session.CameraOff }, "enable should register")
				time.Sleep(time.Duration(i%3) * 10 * time.Millisecond)

				_, err := h.studio.Disable(context.Background())
				require.NoError(t, err)
			}
			wg.Wait()

			if tt.endOn {
				st, err := h.studio.Enable(context.Background())
				require.NoError(t, err)
				assert.Equal(t, session.CameraOn, st.Camera)

				h.eventually(t, func(s session.State) bool { return s.Detecting }, "detection should start")
				assert.Eventually(t, h.loop.Running, waitFor, 5*time.Millisecond)
				assert.Eventually(t, func() bool {
					st := h.camera.Stats()
					return st.Acquired-st.Released == 1
				}, waitFor, 5*time.Millisecond)

				st = h.studio.State()
				assert.Equal(t, session.CameraOn, st.Camera)
				assert.True(t, st.Detecting)
				assert.NotNil(t, h.studio.Source())
			} else {
				assert.Eventually(t, func() bool {
					st := h.camera.Stats()
					return st.Acquired == st.Released
				}, waitFor, 5*time.Millisecond)

				st := h.studio.State()
				assert.Equal(t, session.CameraOff, st.Camera)
				assert.False(t, st.Detecting)
				assert.False(t, h.loop.Running())
				assert.Nil(t, h.studio.Source())
			}

			close(stopWatch)
			<-watched
			assert.False(t, overlap.Load(), "more than one camera stream was live at once")
		})
	}
}

func TestStartDetection_WithoutSourceReleasesCamera(t *testing.T) {
	assets := &fakeAssets{release: make(chan struct{})}
	h := newHarness(t, func(c *harnessConfig) { c.assets = assets })

	_, err := h.studio.Enable(context.Background())
	require.NoError(t, err)

	// The stream goes away underneath the studio before the models are ready.
	h.camera.Disable()
	require.Nil(t, h.camera.Source())

	close(assets.release)
	h.eventually(t, func(s session.State) bool {
		return s.ModelsReady && s.Camera == session.CameraOff
	}, "camera should be reported off")

	st := h.studio.State()
	assert.False(t, st.Detecting)
	assert.False(t, h.loop.Running())
	assert.Contains(t, st.LastError, "camera source is gone")

	// A fresh enable recovers.
	_, err = h.studio.Enable(context.Background())
	require.NoError(t, err)
	h.eventually(t, func(s session.State) bool { return s.Detecting }, "detection should start")
	assert.True(t, h.loop.Running())
}

func TestRecording_ChunksBecomeArtifact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.studio.Enable(ctx)
	require.NoError(t, err)
	st, err := h.studio.StartRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.RecordingActive, st.Recording)

	enc := h.encoders.last(t)
	enc.ch <- []byte("a")
	enc.ch <- []byte("b")

	st, err = h.studio.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.RecordingFinalizing, st.Recording)

	<-enc.stopped
	enc.ch <- []byte("c")
	close(enc.ch)
	h.waitIdle(t)

	st = h.studio.State()
	assert.Equal(t, session.RecordingIdle, st.Recording)
	require.NotNil(t, st.Artifact)
	assert.Equal(t, 3, st.Artifact.Size)

	dl, err := h.studio.Download()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(dl.Data))
	assert.Regexp(t, `^test-\d{8}-\d{6}\.\d{3}\.mjpeg$`, dl.Filename)

	stored, err := storage.NewArtifacts(h.kv).Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, st.Artifact.ID, stored.ID)
	assert.Equal(t, "abc", string(stored.Data))
}

func TestRecording_RequiresCamera(t *testing.T) {
	h := newHarness(t)

	st, err := h.studio.StartRecording(context.Background())
	assert.True(t, errors.Is(err, session.ErrNoSource))
	assert.Equal(t, session.RecordingIdle, st.Recording)

	_, err = h.studio.StopRecording(context.Background())
	assert.True(t, errors.Is(err, session.ErrIllegalState))

	_, err = h.studio.Download()
	assert.True(t, errors.Is(err, session.ErrNoArtifact))
}

func TestRecording_UnsupportedFormat(t *testing.T) {
	h := newHarness(t, func(c *harnessConfig) { c.format = "video/webm" })

	_, err := h.studio.Enable(context.Background())
	require.NoError(t, err)

	st, err := h.studio.StartRecording(context.Background())
	assert.True(t, errors.Is(err, session.ErrEncoderUnsupported))
	assert.Equal(t, session.RecordingIdle, st.Recording)
	assert.NotEmpty(t, st.LastError)
}

func TestRecording_QuotaExceededKeepsArtifact(t *testing.T) {
	h := newHarness(t, func(c *harnessConfig) { c.quota = 16 })
	ctx := context.Background()

	_, err := h.studio.Enable(ctx)
	require.NoError(t, err)
	_, err = h.studio.StartRecording(ctx)
	require.NoError(t, err)

	enc := h.encoders.last(t)
	enc.ch <- make([]byte, 1024)
	_, err = h.studio.StopRecording(ctx)
	require.NoError(t, err)
	close(enc.ch)
	h.waitIdle(t)

	h.eventually(t, func(s session.State) bool { return s.LastError != "" }, "quota error should surface")
	st := h.studio.State()
	assert.Contains(t, st.LastError, "quota")
	require.NotNil(t, st.Artifact)

	dl, err := h.studio.Download()
	require.NoError(t, err)
	assert.Len(t, dl.Data, 1024)

	_, err = h.kv.Get(ctx, "lastRecording")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestDisable_WhileRecordingFinalizes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.studio.Enable(ctx)
	require.NoError(t, err)
	_, err = h.studio.StartRecording(ctx)
	require.NoError(t, err)

	enc := h.encoders.last(t)
	enc.ch <- []byte("partial")

	st, err := h.studio.Disable(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.CameraOff, st.Camera)
	assert.Equal(t, session.RecordingFinalizing, st.Recording)

	<-enc.stopped
	close(enc.ch)
	h.waitIdle(t)

	st = h.studio.State()
	assert.Equal(t, session.RecordingIdle, st.Recording)
	dl, err := h.studio.Download()
	require.NoError(t, err)
	assert.Equal(t, "partial", string(dl.Data))
}

func TestStart_RestoresPersistedArtifact(t *testing.T) {
	kv := storage.NewMemory()
	saved := &recording.Artifact{
		ID:        "restored-1",
		MIME:      recording.MIMEMotionJPEG,
		Data:      []byte("from last session"),
		CreatedAt: time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
	}
	require.NoError(t, storage.NewArtifacts(kv).Save(context.Background(), saved))

	h := newHarness(t, func(c *harnessConfig) { c.kv = kv })

	h.eventually(t, func(s session.State) bool { return s.Artifact != nil }, "artifact should be restored")
	assert.Equal(t, "restored-1", h.studio.State().Artifact.ID)

	dl, err := h.studio.Download()
	require.NoError(t, err)
	assert.Equal(t, "test-20260506-070809.000.mjpeg", dl.Filename)
	assert.Equal(t, "from last session", string(dl.Data))
}

func TestDetectionErrors_SurfaceWithoutStopping(t *testing.T) {
	h := newHarness(t, func(c *harnessConfig) { c.detector = &fakeDetector{err: errors.New("detector timeout")} })

	_, err := h.studio.Enable(context.Background())
	require.NoError(t, err)

	h.eventually(t, func(s session.State) bool { return s.LastError != "" }, "detection error should surface")
	st := h.studio.State()
	assert.Contains(t, st.LastError, "detector timeout")
	assert.True(t, st.Detecting)
	assert.True(t, h.loop.Running())
}

func TestSubscribe_ReceivesStates(t *testing.T) {
	h := newHarness(t)
	ch := h.studio.Subscribe()
	defer h.studio.Unsubscribe(ch)

	_, err := h.studio.Enable(context.Background())
	require.NoError(t, err)

	seenOn := false
	deadline := time.After(waitFor)
	for !seenOn {
		select {
		case st := <-ch:
			seenOn = st.Camera == session.CameraOn
		case <-deadline:
			t.Fatal("no camera-on state received")
		}
	}
}

func TestClose_FinalizesAndRejectsFurtherCalls(t *testing.T) {
	cfg := config.Load()
	kv := storage.NewMemory()
	h := newHarness(t, func(c *harnessConfig) {
		c.kv = kv
		c.encoders = &recording.MJPEGFactory{Formats: cfg, FPS: 30, Timeslice: 20 * time.Millisecond}
	})
	ctx := context.Background()

	_, err := h.studio.Enable(ctx)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return h.studio.Source().Frames() > 0 }, waitFor, 5*time.Millisecond)
	_, err = h.studio.StartRecording(ctx)
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)

	closeCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, h.studio.Close(closeCtx))
	require.NoError(t, h.studio.Close(closeCtx))

	assert.Equal(t, camera.Stats{Acquired: 1, Released: 1}, h.camera.Stats())
	assert.False(t, h.loop.Running())

	stored, err := storage.NewArtifacts(kv).Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEmpty(t, stored.Data)

	_, err = h.studio.Enable(ctx)
	assert.True(t, errors.Is(err, session.ErrClosed))
}
