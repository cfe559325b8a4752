// Package server wires the local web UI and JSON API onto a chi router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/clipnimbus/internal/errors"
	"github.com/3leaps/clipnimbus/internal/server/handlers"
	"github.com/3leaps/clipnimbus/internal/server/middleware"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Server is the local HTTP server.
type Server struct {
	host    string
	port    int
	logger  *zap.Logger
	version handlers.VersionInfo
	jobs    *handlers.Jobs
	ui      *handlers.UI

	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and lifecycle logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets the payload of /version.
func WithVersion(v handlers.VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithJobs mounts the JSON API.
func WithJobs(j *handlers.Jobs) Option {
	return func(s *Server) { s.jobs = j }
}

// WithUI mounts the HTML front end.
func WithUI(u *handlers.UI) Option {
	return func(s *Server) { s.ui = u }
}

// New creates a server listening on host:port.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{host: host, port: port, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.RecoveryWithLogger(s.logger))

	r.NotFound(apperrors.NotFoundHandler)
	r.MethodNotAllowed(apperrors.MethodNotAllowedHandler)

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.jobs != nil {
		r.Route("/api", func(r chi.Router) {
			r.Post("/jobs", s.jobs.Create)
			r.Get("/history", s.jobs.History)
			r.Get("/history/{id}", s.jobs.HistoryEntry)
			r.Get("/status", s.jobs.Status)
		})
	}

	if s.ui != nil {
		r.Get("/", s.ui.Index)
		r.Post("/jobs", s.ui.Submit)
		r.Get("/history/{id}", s.ui.Refill)
	}

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// ready, when non-nil, receives the bound address once listening.
func (s *Server) ListenAndServe(ctx context.Context, ready func(addr string)) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		// Jobs run inside the request; no write timeout.
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	addr := ln.Addr().String()
	s.logger.Info("Server listening", zap.String("addr", addr))
	if ready != nil {
		ready(addr)
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
