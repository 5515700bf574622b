// Package server is a development backend that replays recorded frame logs
// as SSE streams and serves handed off session results.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/tripstream/internal/storage"
)

// StreamPath is the default recommendation stream route.
const StreamPath = "/api/v1/recommendations/stream"

const shutdownTimeout = 5 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithFrameDelay pauses between frames.
func WithFrameDelay(d time.Duration) Option {
	return func(s *Server) {
		s.frameDelay = d
	}
}

// WithToken requires "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithResults serves stored session results under /sessions.
func WithResults(results storage.ResultStore) Option {
	return func(s *Server) {
		s.results = results
	}
}

// WithDefaultSession sets the frame log replayed on StreamPath when the
// request names none.
func WithDefaultSession(id string) Option {
	return func(s *Server) {
		s.defaultSession = id
	}
}

// WithRequestTimeout bounds each request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger

	frames         storage.FrameLog
	results        storage.ResultStore
	defaultSession string
	frameDelay     time.Duration
	token          string
	timeout        time.Duration
}

func New(port int, logger *slog.Logger, frames storage.FrameLog, opts ...Option) *Server {
	s := &Server{
		Port:   port,
		logger: logger,
		frames: frames,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	if s.token != "" {
		r.Use(BearerMiddleware(s.token))
	}
	if s.timeout > 0 {
		r.Use(TimeoutMiddleware(s.timeout))
	}
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "tripstream-fixture")
	})

	r.Post(StreamPath, s.handleStream)
	r.Post("/sessions/{id}/stream", s.handleStream)
	if s.results != nil {
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
	}

	s.Router = r
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting fixture server", slog.Int("port", s.Port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down fixture server")
		return srv.Shutdown(shutdownCtx)
	}
}
