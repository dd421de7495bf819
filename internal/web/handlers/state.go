package handlers

import (
	"net/http"
	"time"
)

// StateHandler exposes the session state.
type StateHandler struct {
	session   Session
	keepAlive time.Duration
}

// NewStateHandler creates a state handler.
func NewStateHandler(s Session) *StateHandler {
	return &StateHandler{session: s, keepAlive: 15 * time.Second}
}

// Get returns the current state.
func (h *StateHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.session.State())
}

// Events streams every state change as a "state" SSE event, starting with
// the current state. Comment lines keep idle proxies from closing the stream.
func (h *StateHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	ch := h.session.Subscribe()
	defer h.session.Unsubscribe(ch)

	sendSSEEvent(w, flusher, "state", h.session.State())

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case st, ok := <-ch:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, "state", st)
		}
	}
}
