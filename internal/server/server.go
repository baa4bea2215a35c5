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

// Server ties together the gatekeeper, the session registry and one relay
// loop per admitted connection.
type Server struct {
	cfg      Config
	gate     *Gatekeeper
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a server for cfg. A nil cfg uses defaults and a nil logger
// uses slog.Default().
func New(cfg *Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := sanitizeConfig(*cfg, logger)

	metrics := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      sanitized,
		gate:     NewGatekeeper(sanitized, logger),
		registry: NewRegistry(sanitized.IsBanned, metrics, logger),
		metrics:  metrics,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Registry returns the live session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return SetupRoutes(s)
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully within timeout.
func (s *Server) Serve(ctx context.Context, l net.Listener, timeout time.Duration) error {
	httpServer := CreateServer(l.Addr().String(), s.Handler())

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", l.Addr().String())
		errCh <- httpServer.Serve(l)
	}()

	select {
	case err := <-errCh:
		s.cancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	httpErr := ShutdownServer(httpServer, timeout, s.logger)
	shutdownErr := s.Shutdown(timeout)
	return errors.Join(httpErr, shutdownErr)
}

// ListenAndServe binds the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, timeout time.Duration) error {
	l, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, l, timeout)
}

// reserveSession accounts for the keepalive and relay goroutines of one
// session. It fails once Shutdown has started so wg.Add never races wg.Wait.
func (s *Server) reserveSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(2)
	return true
}

func (s *Server) releaseSession() {
	s.wg.Done()
	s.wg.Done()
}

// Shutdown closes every session and waits for their goroutines to finish,
// or until timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info("initiating relay shutdown")
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.cancel()
	s.registry.Shutdown()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("relay shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		s.logger.Warn("relay shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
