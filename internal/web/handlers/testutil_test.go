package handlers

import (
	"context"
	"image"
	"sync"

	"github.com/kozaktomas/facecam/internal/recording"
	"github.com/kozaktomas/facecam/internal/session"
)

// fakeSession records calls and returns canned results.
type fakeSession struct {
	mu       sync.Mutex
	state    session.State
	err      error
	download *recording.Download
	frame    image.Image
	calls    []string
	subs     []chan session.State
}

func newFakeSession() *fakeSession {
	return &fakeSession{state: session.Initial()}
}

func (f *fakeSession) record(call string) (session.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.state, f.err
}

func (f *fakeSession) Enable(ctx context.Context) (session.State, error) { return f.record("enable") }
func (f *fakeSession) Disable(ctx context.Context) (session.State, error) {
	return f.record("disable")
}
func (f *fakeSession) StartRecording(ctx context.Context) (session.State, error) {
	return f.record("start")
}
func (f *fakeSession) StopRecording(ctx context.Context) (session.State, error) {
	return f.record("stop")
}

func (f *fakeSession) Download() (*recording.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.download == nil {
		return nil, session.E(session.KindNoArtifact, "recording.Download", "", nil)
	}
	return f.download, nil
}

func (f *fakeSession) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Frame() (image.Image, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame, f.frame != nil
}

func (f *fakeSession) Subscribe() chan session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan session.State, 10)
	f.subs = append(f.subs, ch)
	return ch
}

func (f *fakeSession) Unsubscribe(ch chan session.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.subs {
		if c == ch {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (f *fakeSession) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSession) publish(st session.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = st
	for _, c := range f.subs {
		c <- st
	}
}

// fakeCompositor returns a fixed payload and lets tests trigger renders.
type fakeCompositor struct {
	mu      sync.Mutex
	payload []byte
	err     error
	frames  []image.Image
	signal  chan struct{}
}

func newFakeCompositor(payload []byte) *fakeCompositor {
	return &fakeCompositor{payload: payload, signal: make(chan struct{}, 1)}
}

func (c *fakeCompositor) CompositeJPEG(frame image.Image) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return c.payload, c.err
}

func (c *fakeCompositor) Subscribe() (<-chan struct{}, func()) {
	return c.signal, func() {}
}

func (c *fakeCompositor) render() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}
