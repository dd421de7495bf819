package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/web/handlers"
	"github.com/kozaktomas/facecam/internal/web/middleware"
	"github.com/sirupsen/logrus"
)

// Server represents the web server
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	session    handlers.Session
	surface    handlers.Compositor
	origins    middleware.Origins
	log        *logrus.Entry
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, sess handlers.Session, surface handlers.Compositor, log *logrus.Entry) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:  cfg,
		router:  r,
		session: sess,
		surface: surface,
		origins: middleware.ParseOrigins(cfg.Web.AllowedOrigins),
		log:     log.WithField("component", "web"),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.RequestLogger(&chiMiddleware.DefaultLogFormatter{Logger: s.log, NoColor: true}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(s.origins))

	s.setupRoutes()

	// No WriteTimeout: /events and /overlay/ws are long-lived.
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("Starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
