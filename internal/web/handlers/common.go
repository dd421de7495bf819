package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"

	"github.com/kozaktomas/facecam/internal/recording"
	"github.com/kozaktomas/facecam/internal/session"
)

// Session is the orchestrator as seen by the HTTP layer.
type Session interface {
	Enable(ctx context.Context) (session.State, error)
	Disable(ctx context.Context) (session.State, error)
	StartRecording(ctx context.Context) (session.State, error)
	StopRecording(ctx context.Context) (session.State, error)
	Download() (*recording.Download, error)
	State() session.State
	Frame() (image.Image, bool)
	Subscribe() chan session.State
	Unsubscribe(ch chan session.State)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps a session error kind to an HTTP status.
func statusForError(err error) int {
	switch session.KindOf(err) {
	case session.KindNoSource, session.KindNoArtifact, session.KindIllegalState:
		return http.StatusConflict
	case session.KindAcquire, session.KindClosed:
		return http.StatusServiceUnavailable
	case session.KindEncoderUnsupported:
		return http.StatusUnprocessableEntity
	default:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
}

// respondSessionError sends err with its kind and the state it left behind.
func respondSessionError(w http.ResponseWriter, err error, state session.State) {
	respondJSON(w, statusForError(err), map[string]any{
		"error": err.Error(),
		"kind":  session.KindOf(err),
		"state": state,
	})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
