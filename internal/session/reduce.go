package session

// EventType identifies a state transition input.
type EventType string

const (
	EventCameraRequested  EventType = "camera_requested"
	EventCameraAcquired   EventType = "camera_acquired"
	EventCameraFailed     EventType = "camera_failed"
	EventCameraReleased   EventType = "camera_released"
	EventModelsLoaded     EventType = "models_loaded"
	EventModelsFailed     EventType = "models_failed"
	EventRecordRequested  EventType = "record_requested"
	EventRecordFailed     EventType = "record_failed"
	EventStopRequested    EventType = "stop_requested"
	EventFinalized        EventType = "finalized"
	EventPersistFailed    EventType = "persist_failed"
	EventErrorRaised      EventType = "error_raised"
	EventArtifactRestored EventType = "artifact_restored"
)

// Event is one input to Reduce.
type Event struct {
	Type     EventType
	Err      error
	Artifact *ArtifactRef
	Gen      uint64 // CameraGen an acquisition was started in
}

// Effect is a side-effect instruction produced by Reduce for the caller to run.
type Effect string

const (
	EffectAcquireCamera   Effect = "acquire_camera"
	EffectReleaseCamera   Effect = "release_camera"
	EffectStartDetection  Effect = "start_detection"
	EffectStopDetection   Effect = "stop_detection"
	EffectStartEncoder    Effect = "start_encoder"
	EffectStopEncoder     Effect = "stop_encoder"
	EffectPersistArtifact Effect = "persist_artifact"
)

// Reduce is the pure transition function: it never performs I/O, it only
// returns the next state and the effects the caller must execute in order.
// Events that are illegal in the current state leave it unchanged.
func Reduce(s State, ev Event) (State, []Effect) {
	var effects []Effect

	switch ev.Type {
	case EventCameraRequested:
		if s.Camera == CameraOff {
			s.Camera = CameraStarting
			effects = append(effects, EffectAcquireCamera)
		}

	case EventCameraAcquired:
		if ev.Gen != s.CameraGen {
			// Superseded by a disable. With nobody waiting the stream is a stray.
			if s.Camera == CameraOff {
				effects = append(effects, EffectReleaseCamera)
			}
			break
		}
		switch s.Camera {
		case CameraStarting:
			s.Camera = CameraOn
		case CameraOff:
			// Disabled while the acquisition was pending.
			effects = append(effects, EffectReleaseCamera)
		}

	case EventCameraFailed:
		if ev.Gen != s.CameraGen {
			break
		}
		if s.Camera == CameraStarting {
			s.Camera = CameraOff
		}
		s.LastError = errString(ev.Err)

	case EventCameraReleased:
		if s.Recording == RecordingActive {
			s.Recording = RecordingFinalizing
			effects = append(effects, EffectStopEncoder)
		}
		if s.Camera != CameraOff {
			s.Camera = CameraOff
			s.CameraGen++
			effects = append(effects, EffectReleaseCamera)
		}
		if ev.Err != nil {
			s.LastError = ev.Err.Error()
		}

	case EventModelsLoaded:
		s.ModelsReady = true

	case EventModelsFailed:
		s.ModelsReady = false
		s.LoadFailed = true
		s.LastError = errString(ev.Err)

	case EventRecordRequested:
		if err := Allowed(s, OpStartRecording); err != nil {
			s.LastError = err.Error()
			break
		}
		s.Recording = RecordingActive
		effects = append(effects, EffectStartEncoder)

	case EventRecordFailed:
		if s.Recording == RecordingActive {
			s.Recording = RecordingIdle
		}
		s.LastError = errString(ev.Err)

	case EventStopRequested:
		if s.Recording == RecordingActive {
			s.Recording = RecordingFinalizing
			effects = append(effects, EffectStopEncoder)
		}

	case EventFinalized:
		// The encoder may also finish on its own (source ended) straight from recording.
		if s.Recording == RecordingActive || s.Recording == RecordingFinalizing {
			s.Recording = RecordingIdle
			if ev.Artifact != nil {
				s.Artifact = ev.Artifact
				effects = append(effects, EffectPersistArtifact)
			}
		}

	case EventPersistFailed, EventErrorRaised:
		s.LastError = errString(ev.Err)

	case EventArtifactRestored:
		if s.Artifact == nil && ev.Artifact != nil {
			s.Artifact = ev.Artifact
		}
	}

	allowed := s.DetectionAllowed()
	switch {
	case allowed && !s.Detecting:
		s.Detecting = true
		effects = append(effects, EffectStartDetection)
	case !allowed && s.Detecting:
		s.Detecting = false
		// Detection stops before the camera is released.
		effects = append([]Effect{EffectStopDetection}, effects...)
	}

	return s, effects
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
