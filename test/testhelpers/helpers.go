// Package testhelpers provides common utilities and helper functions for testing the msger relay.
//
// It starts relays on httptest servers, dials raw WebSocket connections with
// the msger handshake headers and reads and writes wire-format messages, so
// integration tests can drive the relay exactly as a client would.
package testhelpers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/msger/internal/logging"
	"github.com/Tyrowin/msger/internal/protocol"
	"github.com/Tyrowin/msger/internal/server"
)

// DefaultTimeout bounds every wait in the integration tests.
const DefaultTimeout = 2 * time.Second

// ErrNoMessage is returned by ReceiveMessage when nothing arrives in time.
var ErrNoMessage = errors.New("testhelpers: no message before deadline")

// Relay is a running msger server behind an httptest.Server.
type Relay struct {
	Server *server.Server
	HTTP   *httptest.Server
	// URL is the ws:// address of the relay.
	URL string
}

// StartRelay creates a relay with default configuration modified by mutate
// and serves it until the test ends.
func StartRelay(t *testing.T, mutate func(*server.Config)) *Relay {
	t.Helper()

	cfg := server.NewConfig()
	if mutate != nil {
		mutate(cfg)
	}
	s := server.New(cfg, logging.Discard())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Shutdown(time.Second)
	})

	return &Relay{
		Server: s,
		HTTP:   ts,
		URL:    "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

// WaitForSessions blocks until the relay holds exactly n sessions.
func (r *Relay) WaitForSessions(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Server.Registry().Len() == n },
		DefaultTimeout, 10*time.Millisecond, "expected %d sessions", n)
}

// Header returns the upgrade headers for username.
func Header(username string) http.Header {
	h := http.Header{}
	if username != "" {
		h.Set(protocol.HeaderUsername, username)
	}
	return h
}

// Dial opens a raw WebSocket connection with the given headers. The
// response body is always closed.
func Dial(url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: DefaultTimeout}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Join dials the relay as username and waits until it has been admitted.
func Join(t *testing.T, r *Relay, username string) *websocket.Conn {
	t.Helper()
	before := r.Server.Registry().Len()

	conn, _, err := Dial(r.URL, Header(username))
	require.NoError(t, err, "join as %s", username)
	t.Cleanup(func() { _ = conn.Close() })

	r.WaitForSessions(t, before+1)
	return conn
}

// SendText writes a text message in the wire format.
func SendText(conn *websocket.Conn, author, text string) error {
	frame, err := protocol.Encode(protocol.NewText(protocol.User(author), text))
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// SendFile writes a file transfer: the contents, then the name.
func SendFile(conn *websocket.Conn, name string, data []byte) error {
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(name))
}

// ReceiveMessage reads and decodes one message, waiting at most timeout.
func ReceiveMessage(conn *websocket.Conn, timeout time.Duration) (protocol.Message, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return protocol.Message{}, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return protocol.Message{}, ErrNoMessage
		}
		return protocol.Message{}, err
	}
	return protocol.Decode(data)
}

// MustReceive reads one message and fails the test if none arrives.
func MustReceive(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	msg, err := ReceiveMessage(conn, DefaultTimeout)
	require.NoError(t, err)
	return msg
}

// ExpectNoMessage fails the test if conn receives anything within timeout.
// A connection that times out cannot be read again.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	msg, err := ReceiveMessage(conn, timeout)
	if err == nil {
		t.Fatalf("unexpected message from %s: %v", msg.Author, msg.Contents)
	}
	require.ErrorIs(t, err, ErrNoMessage)
}

// ExpectClosed fails the test unless the server has closed conn.
func ExpectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("connection still open")
		}
		return
	}
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "make request")
	return resp
}
