// Package server defines the admission and relay error taxonomy plus utility
// helpers that are reused across handshake, registry and relay logic.
package server

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrMissingIdentity is returned when the upgrade request has no username.
	ErrMissingIdentity = errors.New("did not provide valid username")
	// ErrReservedIdentity is returned when a client claims the system author's name.
	ErrReservedIdentity = errors.New("username is reserved")
	// ErrInvalidProof is returned when the server verifies secret knowledge and
	// the client's proof is missing or wrong.
	ErrInvalidProof = errors.New("invalid shared secret proof")
	// ErrBanned is returned when the client's IP is on the ban list.
	ErrBanned = errors.New("address is banned")
	// ErrDuplicateAddress is returned when a session from the same address already exists.
	ErrDuplicateAddress = errors.New("address already connected")
	// ErrShuttingDown is returned when a session arrives after shutdown began.
	ErrShuttingDown = errors.New("server is shutting down")
	// ErrProtocolViolation is returned when the inbound frame sequence breaks the protocol.
	ErrProtocolViolation = errors.New("protocol violation")
)

// HandshakeError describes why a connection was never admitted.
type HandshakeError struct {
	Reason error
	Status int
}

func (e *HandshakeError) Error() string {
	return "handshake rejected: " + e.Reason.Error()
}

func (e *HandshakeError) Unwrap() error {
	return e.Reason
}

func rejectHandshake(reason error) *HandshakeError {
	status := http.StatusBadRequest
	switch {
	case errors.Is(reason, ErrReservedIdentity), errors.Is(reason, ErrBanned):
		status = http.StatusForbidden
	case errors.Is(reason, ErrInvalidProof):
		status = http.StatusUnauthorized
	case errors.Is(reason, ErrDuplicateAddress):
		status = http.StatusConflict
	}
	return &HandshakeError{Reason: reason, Status: status}
}

// rejectionLabel names a rejection reason for metrics.
func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, ErrMissingIdentity):
		return "missing_identity"
	case errors.Is(err, ErrReservedIdentity):
		return "reserved_identity"
	case errors.Is(err, ErrInvalidProof):
		return "invalid_proof"
	case errors.Is(err, ErrBanned):
		return "banned"
	case errors.Is(err, ErrDuplicateAddress):
		return "duplicate_address"
	case errors.Is(err, ErrShuttingDown):
		return "shutting_down"
	default:
		return "upgrade_failed"
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
