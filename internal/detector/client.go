package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/geometry"
)

const defaultDetectorURL = "http://localhost:8000"

// Client talks to the face detection server over HTTP.
type Client struct {
	baseURL string
	client  *http.Client

	mu        sync.RWMutex
	inputSize int // native processing resolution from the asset manifest
}

// NewClient creates a new detection client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultDetectorURL
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		client:    &http.Client{},
		inputSize: constants.DefaultInputSize,
	}
}

// Manifest describes the capability's runtime assets.
type Manifest struct {
	InputSize int          `json:"input_size"`
	Models    []ModelAsset `json:"models"`
}

// ModelAsset is one model file listed in the manifest.
type ModelAsset struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// faceResponse represents the response from the face detection endpoint
type faceResponse struct {
	Width  int          `json:"width"`
	Height int          `json:"height"`
	Faces  []faceResult `json:"faces"`
}

type faceResult struct {
	BBox      []float64    `json:"bbox"` // [x1, y1, x2, y2]
	Score     float64      `json:"score"`
	Landmarks [][2]float64 `json:"landmarks,omitempty"`
}

// LoadAssets fetches the manifest at location and then every model it lists,
// verifying the byte size of each. Any failure leaves the client unusable
// for detection.
func (c *Client) LoadAssets(ctx context.Context, location string) error {
	body, err := c.get(ctx, location)
	if err != nil {
		return fmt.Errorf("fetching manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return fmt.Errorf("malformed manifest: %w", err)
	}
	if len(m.Models) == 0 {
		return errors.New("malformed manifest: no models listed")
	}

	for _, asset := range m.Models {
		data, err := c.get(ctx, asset.Path)
		if err != nil {
			return fmt.Errorf("fetching model %s: %w", asset.Name, err)
		}
		if asset.Size > 0 && int64(len(data)) != asset.Size {
			return fmt.Errorf("model %s: partial load (%d of %d bytes)", asset.Name, len(data), asset.Size)
		}
	}

	if m.InputSize > 0 {
		c.mu.Lock()
		c.inputSize = m.InputSize
		c.mu.Unlock()
	}
	return nil
}

// InputSize returns the longest side frames are resized to before submission.
func (c *Client) InputSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inputSize
}

// DetectAll resizes the frame to the capability's input size, submits it and
// returns the detected regions in the resized frame's pixel space.
func (c *Client) DetectAll(ctx context.Context, frame image.Image) (*Result, error) {
	resized := resizeToFit(frame, c.InputSize())

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: constants.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	body, err := c.postMultipartImage(ctx, "/detect/face", buf.Bytes())
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	size := geometry.Size{Width: resp.Width, Height: resp.Height}
	if !size.Valid() {
		size = geometry.SizeOf(resized.Bounds())
	}

	regions := make([]geometry.Region, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.BBox) != 4 {
			continue
		}
		r := geometry.Region{
			Box:   geometry.Box{X1: f.BBox[0], Y1: f.BBox[1], X2: f.BBox[2], Y2: f.BBox[3]},
			Score: f.Score,
		}
		for _, lm := range f.Landmarks {
			r.Landmarks = append(r.Landmarks, geometry.Point{X: lm[0], Y: lm[1]})
		}
		regions = append(regions, r)
	}

	return &Result{Regions: regions, Size: size}, nil
}

// resizeToFit scales img so its longest side is at most maxSize while keeping aspect ratio.
func resizeToFit(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = c.baseURL + "/" + strings.TrimPrefix(path, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

// postMultipartImage posts JPEG data as the "file" form field.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
