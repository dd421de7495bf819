// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Detection constants
const (
	// DefaultDetectionInterval is the period between detection ticks
	DefaultDetectionInterval = 100 * time.Millisecond

	// DuplicateIoUThreshold is the Intersection over Union above which two
	// detected regions are considered the same face and the weaker one is dropped
	DuplicateIoUThreshold = 0.6

	// MinDetectionScore is the minimum detector score for a region to be drawn
	MinDetectionScore = 0.5

	// DefaultInputSize is the detector input size used when the asset manifest omits it
	DefaultInputSize = 640
)

// Recording constants
const (
	// ArtifactStorageKey is the fixed key the last recording is persisted under
	ArtifactStorageKey = "lastRecording"

	// EncoderChunkBuffer is the buffer size of the encoder chunk channel
	EncoderChunkBuffer = 16

	// JPEGQuality is the quality used for encoded frames
	JPEGQuality = 85

	// PersistTimeout bounds one write of the finished recording to storage
	PersistTimeout = 30 * time.Second
)

// Camera constants
const (
	// MJPEGFrameLimit is the maximum size of one MJPEG part in bytes (8MB)
	MJPEGFrameLimit = 8 << 20
)
