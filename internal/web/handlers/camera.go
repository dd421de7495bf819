package handlers

import "net/http"

// CameraHandler turns the capture source on and off.
type CameraHandler struct {
	session Session
}

// NewCameraHandler creates a camera handler.
func NewCameraHandler(s Session) *CameraHandler {
	return &CameraHandler{session: s}
}

// Enable acquires the camera.
func (h *CameraHandler) Enable(w http.ResponseWriter, r *http.Request) {
	st, err := h.session.Enable(r.Context())
	if err != nil {
		respondSessionError(w, err, st)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// Disable releases the camera. Always succeeds on a live session.
func (h *CameraHandler) Disable(w http.ResponseWriter, r *http.Request) {
	st, err := h.session.Disable(r.Context())
	if err != nil {
		respondSessionError(w, err, st)
		return
	}
	respondJSON(w, http.StatusOK, st)
}
