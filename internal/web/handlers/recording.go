package handlers

import (
	"fmt"
	"net/http"
	"strconv"
)

// RecordingHandler controls recording and serves the artifact.
type RecordingHandler struct {
	session Session
}

// NewRecordingHandler creates a recording handler.
func NewRecordingHandler(s Session) *RecordingHandler {
	return &RecordingHandler{session: s}
}

// Start begins recording.
func (h *RecordingHandler) Start(w http.ResponseWriter, r *http.Request) {
	st, err := h.session.StartRecording(r.Context())
	if err != nil {
		respondSessionError(w, err, st)
		return
	}
	respondJSON(w, http.StatusAccepted, st)
}

// Stop ends recording. The artifact is ready once the state returns to idle.
func (h *RecordingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	st, err := h.session.StopRecording(r.Context())
	if err != nil {
		respondSessionError(w, err, st)
		return
	}
	respondJSON(w, http.StatusAccepted, st)
}

// Artifact sends the last recording as a file download.
func (h *RecordingHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	dl, err := h.session.Download()
	if err != nil {
		respondSessionError(w, err, h.session.State())
		return
	}

	w.Header().Set("Content-Type", dl.MIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dl.Data)
}
