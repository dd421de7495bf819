// Package detector is the client for the external face detection capability.
// The capability runs out of process; this package only fetches its assets
// and submits frames to it.
package detector

import (
	"context"
	"image"

	"github.com/kozaktomas/facecam/internal/geometry"
)

// Result is the output of one detection call. Region geometry is in the
// pixel space of Size, the capability's native processing resolution.
type Result struct {
	Regions []geometry.Region
	Size    geometry.Size
}

// Detector submits frames to the detection capability.
type Detector interface {
	// DetectAll detects every face in the frame, including landmarks when
	// the capability provides them.
	DetectAll(ctx context.Context, frame image.Image) (*Result, error)
}

// AssetLoader fetches and initializes the capability's runtime assets.
type AssetLoader interface {
	LoadAssets(ctx context.Context, location string) error
}

// Capability is a detector whose assets must be loaded before use.
type Capability interface {
	Detector
	AssetLoader
}
