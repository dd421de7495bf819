// Package session holds the session state value shared by the camera,
// detection and recording components, and the pure transition function
// that moves it between states.
package session

import "time"

// CameraState is the lifecycle of the capture source.
type CameraState string

const (
	CameraOff      CameraState = "off"
	CameraStarting CameraState = "starting"
	CameraOn       CameraState = "on"
)

// RecordingState is the lifecycle of one recording session.
type RecordingState string

const (
	RecordingIdle       RecordingState = "idle"
	RecordingActive     RecordingState = "recording"
	RecordingFinalizing RecordingState = "finalizing"
)

// ArtifactRef is a stable reference to a finalized recording.
type ArtifactRef struct {
	ID        string    `json:"id"`
	MIME      string    `json:"mime"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// State is the aggregate of every flag the components read and mutate.
type State struct {
	Camera      CameraState    `json:"camera"`
	ModelsReady bool           `json:"models_ready"`
	LoadFailed  bool           `json:"load_failed"`
	Recording   RecordingState `json:"recording"`
	Detecting   bool           `json:"detecting"`
	LastError   string         `json:"last_error,omitempty"`
	Artifact    *ArtifactRef   `json:"artifact,omitempty"`

	// CameraGen counts camera releases. Acquisition results carry the
	// generation they were started in and are dropped once it is stale.
	CameraGen uint64 `json:"-"`
}

// Initial returns the state at process start.
func Initial() State {
	return State{
		Camera:    CameraOff,
		Recording: RecordingIdle,
	}
}

// CameraActive reports whether a capture source is live.
func (s State) CameraActive() bool {
	return s.Camera == CameraOn
}

// DetectionAllowed is the live gating condition of the detection loop.
func (s State) DetectionAllowed() bool {
	return s.Camera == CameraOn && s.ModelsReady && !s.LoadFailed
}

// Op is an operation the presentation layer may invoke.
type Op string

const (
	OpEnable         Op = "enable"
	OpDisable        Op = "disable"
	OpStartRecording Op = "start_recording"
	OpStopRecording  Op = "stop_recording"
	OpDownload       Op = "download"
)

// Allowed returns nil if op is legal in s, otherwise the error to reject it with.
func Allowed(s State, op Op) error {
	switch op {
	case OpStartRecording:
		if !s.CameraActive() {
			return E(KindNoSource, "recording.Start", "no active camera", nil)
		}
		if s.Recording != RecordingIdle {
			return E(KindIllegalState, "recording.Start", "recording is "+string(s.Recording), nil)
		}
	case OpStopRecording:
		if s.Recording != RecordingActive {
			return E(KindIllegalState, "recording.Stop", "recording is "+string(s.Recording), nil)
		}
	case OpDownload:
		if s.Artifact == nil {
			return E(KindNoArtifact, "recording.Download", "no recording available", nil)
		}
		if s.Recording == RecordingActive {
			return E(KindIllegalState, "recording.Download", "recording in progress", nil)
		}
	}
	return nil
}
