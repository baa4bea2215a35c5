// Package server drives each admitted connection from admission to
// termination: decoding frames, reconstructing file transfers, throttling
// and fanning messages out to the other sessions.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/msger/internal/protocol"
)

const (
	noticeRateLimited  = "You are sending messages too quickly; message discarded"
	noticeFilesBlocked = "File transfers are disabled on this server; file discarded"
)

// errPeerClosed signals that the peer sent a close frame.
var errPeerClosed = errors.New("peer sent close frame")

// relay runs the inbound loop for one session until the connection ends.
// The session is always removed from the registry and closed on return.
func (s *Server) relay(sess *Session, in Inbound) {
	logger := s.logger.With("addr", sess.Address, "name", sess.Name, "session", sess.ID.String())
	limiter := newRateLimiter(s.cfg.MessageBurst, s.cfg.MessageTimeout)

	defer func() {
		s.registry.removeSession(sess)
		if err := sess.Close(); err != nil && !isExpectedCloseError(err) {
			logger.Debug("error closing connection in relay", "error", err)
		}
	}()

	for {
		msg, err := s.nextMessage(sess, in)
		if err != nil {
			if errors.Is(err, protocol.ErrDecode) {
				logger.Warn("discarding malformed message", "error", err)
				s.metrics.dropped.WithLabelValues("decode").Inc()
				continue
			}
			s.finish(sess, err, logger)
			return
		}

		if !limiter.allow() {
			logger.Warn("rate limit exceeded; discarding message",
				"limit", limiter.burst, "window", limiter.window.String())
			s.metrics.dropped.WithLabelValues("rate_limited").Inc()
			s.notify(sess, noticeRateLimited, logger)
			continue
		}

		if _, isFile := msg.Contents.(protocol.File); isFile && !s.cfg.AllowFiles {
			logger.Info("discarding file, transfers disabled")
			s.metrics.dropped.WithLabelValues("files_disabled").Inc()
			s.notify(sess, noticeFilesBlocked, logger)
			continue
		}

		s.broadcast(sess.Address, msg, logger)
	}
}

// nextMessage reads frames until it can return one complete message.
func (s *Server) nextMessage(sess *Session, in Inbound) (protocol.Message, error) {
	messageType, data, err := in.ReadMessage()
	if err != nil {
		return protocol.Message{}, classifyReadError(err)
	}

	switch messageType {
	case websocket.TextMessage:
		msg, err := protocol.Decode(data)
		if err != nil {
			return protocol.Message{}, err
		}
		msg.Author = protocol.User(sess.Name)
		return msg, nil

	case websocket.BinaryMessage:
		return s.reconstructFile(sess, in, data)

	default:
		return protocol.Message{}, fmt.Errorf("%w: unsupported frame type %d", ErrProtocolViolation, messageType)
	}
}

// reconstructFile completes a file transfer: the binary frame just read must
// be followed immediately by a text frame holding the file name.
func (s *Server) reconstructFile(sess *Session, in Inbound, data []byte) (protocol.Message, error) {
	messageType, name, err := in.ReadMessage()
	if err != nil {
		return protocol.Message{}, fmt.Errorf("%w: file frame not followed by a filename: %v", ErrProtocolViolation, err)
	}
	if messageType != websocket.TextMessage {
		return protocol.Message{}, fmt.Errorf("%w: expected filename text frame, got frame type %d", ErrProtocolViolation, messageType)
	}
	if len(name) == 0 {
		return protocol.Message{}, fmt.Errorf("%w: empty filename", ErrProtocolViolation)
	}
	return protocol.NewFile(protocol.User(sess.Name), string(name), data), nil
}

// classifyReadError maps a read failure to a terminal relay outcome. Gorilla
// reports a dropped TCP connection as close code 1006, which no peer sends.
func classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		return fmt.Errorf("%w: %v", errPeerClosed, err)
	}
	return err
}

// finish logs why the loop ended and announces voluntary disconnects.
func (s *Server) finish(sess *Session, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, errPeerClosed):
		logger.Info("client disconnected")
		// Removed before announcing so the leaving session is never a target.
		s.registry.removeSession(sess)
		s.broadcast(sess.Address, protocol.Disconnected(sess.Name), logger)

	case errors.Is(err, ErrProtocolViolation):
		logger.Warn("closing connection after protocol violation", "error", err)
		s.metrics.violations.Inc()

	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warn("message exceeded maximum size", "limit", s.cfg.MaxMessageSize)

	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		logger.Info("client connection closed", "error", err)

	default:
		logger.Warn("websocket read error", "error", err)
	}
}

// broadcast encodes msg and fans it out to every session but origin.
func (s *Server) broadcast(origin string, msg protocol.Message, logger *slog.Logger) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		logger.Error("error encoding message", "error", err)
		s.metrics.dropped.WithLabelValues("encode").Inc()
		return
	}

	kind := "text"
	if _, isFile := msg.Contents.(protocol.File); isFile {
		kind = "file"
	}
	if msg.Author.IsSystem() {
		kind = "system"
	}

	s.registry.BroadcastExcept(s.ctx, origin, frame)
	s.metrics.relayed.WithLabelValues(kind).Inc()
}

// notify sends a system message to a single session.
func (s *Server) notify(sess *Session, text string, logger *slog.Logger) {
	frame, err := protocol.Encode(protocol.NewText(protocol.System, text))
	if err != nil {
		logger.Error("error encoding notice", "error", err)
		return
	}
	if err := sess.Send(s.ctx, frame); err != nil && !isExpectedCloseError(err) {
		logger.Debug("error sending notice", "error", err)
	}
}
