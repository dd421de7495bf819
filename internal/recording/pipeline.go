// Package recording turns the live capture source into a downloadable
// artifact: it drives an encoder, collects its chunks in order and
// assembles them once the encoder acknowledges the stop.
package recording

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/facecam/internal/session"
)

// Pipeline is the recording state machine idle -> recording -> finalizing -> idle.
type Pipeline struct {
	factory    EncoderFactory
	mime       string
	ext        string
	prefix     string
	now        func() time.Time
	onFinalize func(*Artifact)
	log        *logrus.Entry

	mu       sync.Mutex
	state    session.RecordingState
	chunks   [][]byte
	encoder  Encoder
	artifact *Artifact
	settled  chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFilePrefix sets the download file name prefix.
func WithFilePrefix(prefix string) Option {
	return func(p *Pipeline) { p.prefix = prefix }
}

// WithExtension sets the download file extension.
func WithExtension(ext string) Option {
	return func(p *Pipeline) { p.ext = ext }
}

// WithClock overrides the artifact creation clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithFinalizeHandler sets the callback run after each artifact is assembled.
// It runs outside the pipeline lock.
func WithFinalizeHandler(fn func(*Artifact)) Option {
	return func(p *Pipeline) { p.onFinalize = fn }
}

// NewPipeline creates an idle pipeline recording in the given MIME type.
func NewPipeline(factory EncoderFactory, mime string, log *logrus.Entry, opts ...Option) *Pipeline {
	settled := make(chan struct{})
	close(settled)

	p := &Pipeline{
		factory:    factory,
		mime:       mime,
		prefix:     "recording",
		now:        time.Now,
		onFinalize: func(*Artifact) {},
		log:        log.WithField("component", "recording"),
		state:      session.RecordingIdle,
		settled:    settled,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins recording src. It requires an idle pipeline and an active source.
func (p *Pipeline) Start(src FrameSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if src == nil {
		return session.E(session.KindNoSource, "recording.Start", "no active camera", nil)
	}
	if p.state != session.RecordingIdle {
		return session.E(session.KindIllegalState, "recording.Start", "recording is "+string(p.state), nil)
	}

	p.chunks = nil
	enc, err := p.factory.New(src, p.mime)
	if err != nil {
		if session.KindOf(err) == "" {
			err = session.E(session.KindEncoder, "recording.Start", "failed to start encoder", err)
		}
		p.log.WithError(err).Warn("recording not started")
		return err
	}

	p.encoder = enc
	p.state = session.RecordingActive
	p.settled = make(chan struct{})
	go p.collect(enc)

	p.log.WithField("mime", p.mime).Info("recording started")
	return nil
}

// Stop asks the encoder to finish. The artifact is assembled once the
// encoder has delivered its last chunk.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state != session.RecordingActive {
		state := p.state
		p.mu.Unlock()
		return session.E(session.KindIllegalState, "recording.Stop", "recording is "+string(state), nil)
	}
	p.state = session.RecordingFinalizing
	enc := p.encoder
	p.mu.Unlock()

	enc.Stop()
	p.log.Info("recording stopping")
	return nil
}

// Wait blocks until the pipeline is idle again and the finalize handler has
// returned, or until ctx ends.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	settled := p.settled
	p.mu.Unlock()

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) collect(enc Encoder) {
	for chunk := range enc.Chunks() {
		p.appendChunk(chunk)
	}
	p.finalize()
}

func (p *Pipeline) appendChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == session.RecordingIdle {
		return
	}
	p.chunks = append(p.chunks, chunk)
}

func (p *Pipeline) finalize() {
	p.mu.Lock()
	if p.state == session.RecordingIdle {
		p.mu.Unlock()
		return
	}

	art := &Artifact{
		ID:        uuid.NewString(),
		MIME:      p.mime,
		Data:      bytes.Join(p.chunks, nil),
		CreatedAt: p.now(),
	}
	p.chunks = nil
	p.encoder = nil
	p.artifact = art
	p.state = session.RecordingIdle
	settled := p.settled
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"id": art.ID, "bytes": len(art.Data)}).Info("recording finalized")
	p.onFinalize(art)
	close(settled)
}

// Restore installs a previously persisted artifact unless one already exists.
func (p *Pipeline) Restore(a *Artifact) {
	if a == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.artifact == nil {
		p.artifact = a
	}
}

// Download returns the current artifact ready to be saved.
func (p *Pipeline) Download() (*Download, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.artifact == nil {
		return nil, session.E(session.KindNoArtifact, "recording.Download", "no recording available", nil)
	}
	if p.state == session.RecordingActive {
		return nil, session.E(session.KindIllegalState, "recording.Download", "recording in progress", nil)
	}
	return &Download{
		Filename: Filename(p.prefix, p.artifact.CreatedAt, p.ext),
		MIME:     p.artifact.MIME,
		Data:     p.artifact.Data,
	}, nil
}

// State returns the current recording state.
func (p *Pipeline) State() session.RecordingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Artifact returns the current artifact or nil.
func (p *Pipeline) Artifact() *Artifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.artifact
}
