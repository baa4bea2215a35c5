// Package server manages admitted sessions: the outbound half of each
// connection, its serialized writes, keepalive pings and lifecycle control.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed to write a ping or close frame.
	controlWait = 10 * time.Second
)

// Outbound is the write half of an admitted connection. *websocket.Conn
// satisfies it.
type Outbound interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Inbound is the read half of an admitted connection.
type Inbound interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// Session is an admitted connection: its identity plus the exclusive handle
// used to send frames to it.
type Session struct {
	ID      ulid.ULID
	Address string
	Name    string

	out         Outbound
	sendTimeout time.Duration
	writeMu     sync.Mutex
	closeOnce   sync.Once
	done        chan struct{}
}

// NewSession wraps the outbound half of a connection that passed the handshake.
func NewSession(address, name string, out Outbound, sendTimeout time.Duration) *Session {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Session{
		ID:          ulid.Make(),
		Address:     address,
		Name:        name,
		out:         out,
		sendTimeout: sendTimeout,
		done:        make(chan struct{}),
	}
}

// Send writes one text frame. The write is bounded by the session's send
// timeout or the context deadline, whichever is sooner.
func (s *Session) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(s.sendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return websocket.ErrCloseSent
	default:
	}

	if err := s.out.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.out.WriteMessage(websocket.TextMessage, frame)
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close closes the underlying connection. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.out.Close()
	})
	return err
}

// keepalive pings the peer until the session closes. Pings go through
// WriteControl, which may run concurrently with Send.
func (s *Session) keepalive(logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.out.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWait)); err != nil {
				if !isExpectedCloseError(err) {
					logger.Debug("ping failed", "error", err)
				}
				_ = s.Close()
				return
			}
		}
	}
}

// setupReadConnection configures read limits, deadlines and the pong handler
// for the inbound half of the connection.
func setupReadConnection(conn *websocket.Conn, maxMessageSize int64, logger *slog.Logger) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Warn("error setting initial read deadline", "error", err)
	}
	conn.SetPongHandler(func(string) error {
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			logger.Warn("error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}
