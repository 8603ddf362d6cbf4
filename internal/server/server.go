// Package server runs the HTTP listener and the in-process export pool for
// the lifetime of a context.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// shutdownGrace bounds how long in-flight requests may run after the
// context is cancelled.
const shutdownGrace = 10 * time.Second

// Background is started with the server and waited for after shutdown.
// processing.Pool implements it.
type Background interface {
	Start(ctx context.Context)
	Wait()
}

// Server hosts an http.Handler.
type Server struct {
	addr       string
	handler    http.Handler
	background Background
	logger     *slog.Logger
	once       sync.Once
}

// New creates a server. background may be nil.
func New(addr string, handler http.Handler, background Background, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, handler: handler, background: background, logger: logger}
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down
// gracefully and waits for background workers.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	if s.background != nil {
		s.once.Do(func() { s.background.Start(ctx) })
	}
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "err", err)
		}
	}()

	s.logger.Info("api listening", "addr", ln.Addr().String())
	err := httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	if s.background != nil {
		s.background.Wait()
	}
	s.logger.Info("api stopped")
	return nil
}
