package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/geometry"
)

var errBadFrame = errors.New("undecodable frame")

// MJPEGDevice reads a multipart/x-mixed-replace JPEG stream, the format
// served by most IP cameras.
type MJPEGDevice struct {
	URL    string
	client *http.Client
}

// NewMJPEGDevice creates a device for the stream at url.
func NewMJPEGDevice(url string) *MJPEGDevice {
	return &MJPEGDevice{URL: url, client: &http.Client{}}
}

func (d *MJPEGDevice) Name() string { return "mjpeg" }

// Acquire connects and decodes the first frame to learn the resolution.
func (d *MJPEGDevice) Acquire(ctx context.Context) (Track, geometry.Size, error) {
	if d.URL == "" {
		return nil, geometry.Size{}, errors.New("no camera URL configured")
	}

	// The stream outlives ctx, which only bounds connecting.
	streamCtx, cancel := context.WithCancel(context.Background())
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, d.URL, nil)
	if err != nil {
		cancel()
		return nil, geometry.Size{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		cancel()
		return nil, geometry.Size{}, fmt.Errorf("failed to connect to camera: %w", err)
	}

	fail := func(err error) (Track, geometry.Size, error) {
		resp.Body.Close()
		cancel()
		return nil, geometry.Size{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("camera returned status %d", resp.StatusCode))
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return fail(fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")))
	}

	t := &mjpegTrack{
		body:   resp.Body,
		reader: multipart.NewReader(resp.Body, params["boundary"]),
		cancel: cancel,
	}
	first, err := t.next()
	if err != nil {
		return fail(fmt.Errorf("failed to read first frame: %w", err))
	}
	t.first = first
	return t, geometry.SizeOf(first.Bounds()), nil
}

type mjpegTrack struct {
	body   io.ReadCloser
	reader *multipart.Reader
	cancel context.CancelFunc
	first  image.Image
}

func (t *mjpegTrack) next() (image.Image, error) {
	part, err := t.reader.NextPart()
	if err != nil {
		return nil, err
	}
	defer part.Close()

	data, err := io.ReadAll(io.LimitReader(part, constants.MJPEGFrameLimit))
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return img, nil
}

func (t *mjpegTrack) Run(ctx context.Context, sink func(image.Image)) error {
	stop := context.AfterFunc(ctx, t.cancel)
	defer stop()

	if t.first != nil {
		sink(t.first)
		t.first = nil
	}
	for {
		img, err := t.next()
		if errors.Is(err, errBadFrame) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return errors.New("camera stream closed")
			}
			return err
		}
		sink(img)
	}
}

func (t *mjpegTrack) Close() error {
	t.cancel()
	return t.body.Close()
}
