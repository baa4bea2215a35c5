package server

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/msger/internal/logging"
	"github.com/Tyrowin/msger/internal/protocol"
)

// fakeOutbound records frames written to a session.
type fakeOutbound struct {
	mu       sync.Mutex
	frames   [][]byte
	deadline time.Time
	closed   bool
	writeErr error
	// stall makes writes block until the write deadline passes.
	stall bool
}

func (f *fakeOutbound) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	stall, deadline, writeErr := f.stall, f.deadline, f.writeErr
	f.mu.Unlock()

	if stall {
		time.Sleep(time.Until(deadline))
		return os.ErrDeadlineExceeded
	}
	if writeErr != nil {
		return writeErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return net.ErrClosed
	}
	if messageType == websocket.TextMessage {
		f.frames = append(f.frames, append([]byte(nil), data...))
	}
	return nil
}

func (f *fakeOutbound) WriteControl(int, []byte, time.Time) error {
	return nil
}

func (f *fakeOutbound) SetWriteDeadline(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadline = t
	return nil
}

func (f *fakeOutbound) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeOutbound) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeOutbound) messages(t *testing.T) []protocol.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]protocol.Message, 0, len(f.frames))
	for _, frame := range f.frames {
		msg, err := protocol.Decode(frame)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// scriptedInbound replays frames, then reports end of stream.
type scriptedInbound struct {
	frames []inboundFrame
	next   int
}

func (s *scriptedInbound) ReadMessage() (int, []byte, error) {
	if s.next >= len(s.frames) {
		return 0, nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f.messageType, f.data, f.err
}

func textFrame(t *testing.T, text string) inboundFrame {
	t.Helper()
	data, err := protocol.Encode(protocol.NewText(protocol.User("ignored"), text))
	require.NoError(t, err)
	return inboundFrame{messageType: websocket.TextMessage, data: data}
}

func rawText(s string) inboundFrame {
	return inboundFrame{messageType: websocket.TextMessage, data: []byte(s)}
}

func binaryFrame(b []byte) inboundFrame {
	return inboundFrame{messageType: websocket.BinaryMessage, data: b}
}

func closeFrame() inboundFrame {
	return inboundFrame{err: &websocket.CloseError{Code: websocket.CloseNormalClosure}}
}

func readFailure() inboundFrame {
	return inboundFrame{err: errors.New("connection reset by peer")}
}

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := NewConfig()
	if mutate != nil {
		mutate(cfg)
	}
	s := New(cfg, logging.Discard())
	t.Cleanup(func() { _ = s.Shutdown(time.Second) })
	return s
}

// admitFake registers a session backed by a fakeOutbound.
func admitFake(t *testing.T, s *Server, addr, name string) (*Session, *fakeOutbound) {
	t.Helper()
	out := &fakeOutbound{}
	sess := NewSession(addr, name, out, s.cfg.SendTimeout)
	require.NoError(t, s.registry.Admit(sess))
	return sess, out
}
