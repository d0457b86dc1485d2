package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server exposes /metrics, and /health when a health handler is given, for
// the duration of a run.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func NewServer(port int, health http.Handler) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	if health != nil {
		mux.Handle("GET /health", health)
	}
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 2 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		logger: slog.Default().With("component", "metrics"),
	}
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens in the background. Listen errors are logged, not returned.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
