package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/msger/internal/protocol"
)

// Gatekeeper decides whether an upgrade request becomes a connection, and
// negotiates the client's identity and the shared-secret challenge.
type Gatekeeper struct {
	secret       string
	requireProof bool
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

// NewGatekeeper builds a gatekeeper for cfg. cfg must already be sanitized.
func NewGatekeeper(cfg Config, logger *slog.Logger) *Gatekeeper {
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	return &Gatekeeper{
		secret:       cfg.SharedSecret,
		requireProof: cfg.RequireProof,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     origins.check,
		},
		logger: logger,
	}
}

// identify validates the display name carried on the upgrade request.
func (g *Gatekeeper) identify(r *http.Request) (string, error) {
	name := strings.TrimSpace(r.Header.Get(protocol.HeaderUsername))
	if name == "" {
		return "", ErrMissingIdentity
	}
	if protocol.IsReservedName(name) {
		return "", fmt.Errorf("%w: %q", ErrReservedIdentity, name)
	}
	return name, nil
}

// verifyProof checks the client's sealed sentinel when the server requires it.
func (g *Gatekeeper) verifyProof(r *http.Request) error {
	if !g.requireProof {
		return nil
	}
	proof := r.Header.Get(protocol.HeaderProof)
	if proof == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidProof, protocol.HeaderProof)
	}
	if err := protocol.VerifyChallenge(proof, g.secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

// Accept runs the handshake for one request. On success the connection has
// been upgraded and the validated display name is returned. On failure an
// HTTP error response has already been written and no connection exists.
func (g *Gatekeeper) Accept(w http.ResponseWriter, r *http.Request) (string, *websocket.Conn, error) {
	name, err := g.identify(r)
	if err == nil {
		err = g.verifyProof(r)
	}
	if err != nil {
		herr := rejectHandshake(err)
		http.Error(w, reasonText(herr), herr.Status)
		return "", nil, herr
	}

	challenge, err := protocol.NewChallenge(g.secret)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return "", nil, fmt.Errorf("build challenge: %w", err)
	}

	header := http.Header{}
	header.Set(protocol.HeaderChallenge, challenge)

	conn, err := g.upgrader.Upgrade(w, r, header)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		return "", nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return name, conn, nil
}

func reasonText(err *HandshakeError) string {
	switch {
	case errors.Is(err, ErrMissingIdentity):
		return "Did not provide valid username"
	case errors.Is(err, ErrReservedIdentity):
		return "Username is reserved"
	case errors.Is(err, ErrInvalidProof):
		return "Shared secret proof required"
	default:
		return err.Reason.Error()
	}
}
