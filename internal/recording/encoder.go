package recording

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/session"
)

// MIMEMotionJPEG is the only format the built-in encoder produces.
const MIMEMotionJPEG = "video/x-motion-jpeg"

// FrameSource is the live stream an encoder samples.
type FrameSource interface {
	Frame() (image.Image, bool)
	Paused() bool
	Done() <-chan struct{}
}

// Encoder produces chunks of encoded media.
type Encoder interface {
	// Chunks emits encoded data in order. The channel is closed after the
	// final chunk once Stop was called or the source ended.
	Chunks() <-chan []byte
	// Stop asks the encoder to flush and finish. Idempotent.
	Stop()
	MIME() string
}

// EncoderFactory constructs encoders bound to a source.
type EncoderFactory interface {
	New(src FrameSource, mime string) (Encoder, error)
}

// FormatLookup resolves enabled output formats. *config.Config satisfies it.
type FormatLookup interface {
	LookupFormat(mime string) (config.Format, bool)
}

// MJPEGFactory builds Motion JPEG encoders. Each chunk is a run of
// concatenated JPEG frames.
type MJPEGFactory struct {
	Formats   FormatLookup
	FPS       int
	Timeslice time.Duration
}

// NewMJPEGFactory creates a factory from the recording config.
func NewMJPEGFactory(cfg *config.Config) *MJPEGFactory {
	return &MJPEGFactory{
		Formats:   cfg,
		FPS:       cfg.Recording.FPS,
		Timeslice: cfg.Recording.Timeslice,
	}
}

// New starts an encoder for mime. Formats that are disabled, unknown or not
// Motion JPEG are rejected with an encoder-unsupported error.
func (f *MJPEGFactory) New(src FrameSource, mime string) (Encoder, error) {
	if _, ok := f.Formats.LookupFormat(mime); !ok || mime != MIMEMotionJPEG {
		return nil, session.E(session.KindEncoderUnsupported, "recording.Start", "unsupported output format "+mime, nil)
	}
	if src == nil {
		return nil, session.E(session.KindNoSource, "recording.Start", "no active camera", nil)
	}

	fps := f.FPS
	if fps <= 0 {
		fps = 10
	}
	slice := f.Timeslice
	if slice <= 0 {
		slice = time.Second
	}

	e := &mjpegEncoder{
		src:       src,
		frameTick: time.Second / time.Duration(fps),
		timeslice: slice,
		chunks:    make(chan []byte, constants.EncoderChunkBuffer),
		stop:      make(chan struct{}),
	}
	go e.run()
	return e, nil
}

type mjpegEncoder struct {
	src       FrameSource
	frameTick time.Duration
	timeslice time.Duration

	chunks   chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func (e *mjpegEncoder) Chunks() <-chan []byte { return e.chunks }

func (e *mjpegEncoder) MIME() string { return MIMEMotionJPEG }

func (e *mjpegEncoder) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *mjpegEncoder) run() {
	defer close(e.chunks)

	frames := time.NewTicker(e.frameTick)
	defer frames.Stop()
	slices := time.NewTicker(e.timeslice)
	defer slices.Stop()

	var buf bytes.Buffer
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		chunk := make([]byte, buf.Len())
		copy(chunk, buf.Bytes())
		buf.Reset()
		e.chunks <- chunk
	}

	for {
		select {
		case <-e.stop:
			e.sample(&buf)
			flush()
			return
		case <-e.src.Done():
			flush()
			return
		case <-frames.C:
			e.sample(&buf)
		case <-slices.C:
			flush()
		}
	}
}

func (e *mjpegEncoder) sample(buf *bytes.Buffer) {
	if e.src.Paused() {
		return
	}
	frame, ok := e.src.Frame()
	if !ok {
		return
	}
	var encoded bytes.Buffer
	if err := jpeg.Encode(&encoded, frame, &jpeg.Options{Quality: constants.JPEGQuality}); err != nil {
		return // dropped, the stream continues
	}
	buf.Write(encoded.Bytes())
}
