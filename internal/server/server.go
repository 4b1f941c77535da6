package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"outbound-pool/internal/common/logging"
)

// Server represents the admin HTTP server
type Server struct {
	srv    *http.Server
	logger logging.Logger
}

// New creates a new server instance
func New(handler http.Handler, port string, logger logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logging.OrGlobal(logger).WithFields(logging.String("component", "admin-server")),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly; later serve errors are delivered on the channel, which
// is closed once the server stops.
func (s *Server) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, err
	}
	return s.Serve(ln), nil
}

// Serve serves on an existing listener
func (s *Server) Serve(ln net.Listener) <-chan error {
	errCh := make(chan error, 1)
	s.logger.Info("Admin server listening", logging.String("addr", ln.Addr().String()))

	go func() {
		defer close(errCh)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin server stopped", err)
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
