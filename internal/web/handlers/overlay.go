package handlers

import (
	"image"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Compositor renders the overlay on top of a camera frame.
type Compositor interface {
	CompositeJPEG(frame image.Image) ([]byte, error)
	Subscribe() (<-chan struct{}, func())
}

// OverlayHandler serves the annotated surface.
type OverlayHandler struct {
	session  Session
	surface  Compositor
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

// NewOverlayHandler creates an overlay handler. checkOrigin may be nil to
// accept same-origin upgrades only.
func NewOverlayHandler(s Session, surface Compositor, log *logrus.Entry, checkOrigin func(r *http.Request) bool) *OverlayHandler {
	return &OverlayHandler{
		session: s,
		surface: surface,
		log:     log.WithField("handler", "overlay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// snapshot composites the latest frame with the current overlay. Without a
// live camera the overlay is drawn on black.
func (h *OverlayHandler) snapshot() ([]byte, error) {
	frame, _ := h.session.Frame()
	return h.surface.CompositeJPEG(frame)
}

// Snapshot returns the current annotated surface as a JPEG image.
func (h *OverlayHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	data, err := h.snapshot()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to render overlay")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) write(messageType int, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(messageType, b)
}

// Feed upgrades to a websocket and pushes one binary JPEG message per
// overlay render. Renders that arrive while a frame is being sent coalesce
// into the next one.
func (h *OverlayHandler) Feed(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrade already wrote the response
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	renders, unsubscribe := h.surface.Subscribe()
	defer unsubscribe()

	// reader: handles pongs and notices the client going away
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.WithError(err).Debug("Overlay feed closed")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readDone:
			return
		case <-ping.C:
			if err := wc.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-renders:
			data, err := h.snapshot()
			if err != nil {
				h.log.WithError(err).Warn("Failed to render overlay frame")
				continue
			}
			if err := wc.write(websocket.BinaryMessage, data); err != nil {
				return
			}
		}
	}
}
