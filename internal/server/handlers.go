// Package server exposes HTTP handlers, including WebSocket upgrades and
// health checks.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

const healthText = "msger server is running!"

// ServeWS handles WebSocket upgrade requests. It runs the handshake, admits
// the session and starts its relay and keepalive goroutines.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	name, conn, err := s.gate.Accept(w, r)
	if err != nil {
		s.metrics.rejected.WithLabelValues(rejectionLabel(err)).Inc()
		s.logger.Info("handshake rejected", "addr", r.RemoteAddr, "error", err)
		return
	}

	sess := NewSession(r.RemoteAddr, name, conn, s.cfg.SendTimeout)
	err = ErrShuttingDown
	if s.reserveSession() {
		if err = s.registry.Admit(sess); err != nil {
			s.releaseSession()
		}
	}
	if err != nil {
		s.metrics.rejected.WithLabelValues(rejectionLabel(err)).Inc()
		s.logger.Info("new websocket connection denied", "addr", r.RemoteAddr, "name", name, "error", err)
		if cerr := conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
			s.logger.Debug("error closing rejected connection", "addr", r.RemoteAddr, "error", cerr)
		}
		return
	}

	logger := s.logger.With("addr", sess.Address, "name", sess.Name, "session", sess.ID.String())
	setupReadConnection(conn, s.cfg.MaxMessageSize, logger)

	go func() {
		defer s.wg.Done()
		sess.keepalive(logger)
	}()
	go func() {
		defer s.wg.Done()
		s.relay(sess, conn)
	}()
}

// serveRoot upgrades WebSocket requests on "/" and answers anything else
// with the health text, so clients may connect to the bare server address.
func (s *Server) serveRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.ServeWS(w, r)
		return
	}
	HealthHandler(w, r)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, healthText)
}
