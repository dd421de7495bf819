package web

import (
	"io"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/facecam/internal/web/handlers"
	"github.com/kozaktomas/facecam/internal/web/middleware"
	"github.com/kozaktomas/facecam/internal/web/static"
)

// requestTimeout bounds the non-streaming API calls. Enable waits for the
// camera, so it has to cover a slow device handshake.
const requestTimeout = 30 * time.Second

func (s *Server) setupRoutes() {
	stateHandler := handlers.NewStateHandler(s.session)
	cameraHandler := handlers.NewCameraHandler(s.session)
	recordingHandler := handlers.NewRecordingHandler(s.session)
	overlayHandler := handlers.NewOverlayHandler(s.session, s.surface, s.log, s.origins.CheckOrigin)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Streams
		r.Get("/events", stateHandler.Events)
		r.Get("/overlay/ws", overlayHandler.Feed)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			r.Get("/state", stateHandler.Get)

			// Camera
			r.Post("/camera", cameraHandler.Enable)
			r.Delete("/camera", cameraHandler.Disable)

			// Recording
			r.Post("/recording", recordingHandler.Start)
			r.Delete("/recording", recordingHandler.Stop)
			r.Get("/recording/artifact", recordingHandler.Artifact)

			// Overlay
			r.Get("/overlay", overlayHandler.Snapshot)
		})
	})

	// Viewer page
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.SecurityHeaders())
		r.Get("/*", s.serveStatic)
	})
}

// serveStatic serves the embedded viewer. Unknown paths fall back to
// index.html.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	fs := static.GetFileSystem()
	name := r.URL.Path
	if name == "/" {
		name = "/index.html"
	}

	f, err := fs.Open(name)
	if err != nil {
		name = "/index.html"
		f, err = fs.Open(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		http.NotFound(w, r)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
