// Package client connects to a msger relay. It performs the handshake,
// checks the server's shared-secret challenge, and exposes the connection as
// a stream of incoming messages plus methods to send text, files and a
// disconnect.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/msger/internal/protocol"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

var (
	// ErrBadPassword is returned when the server's challenge does not open to
	// the sentinel with the supplied secret.
	ErrBadPassword = errors.New("client: shared secret does not match server")
	// ErrChallengeEncoding is returned when the server sent a malformed challenge.
	ErrChallengeEncoding = errors.New("client: server sent malformed challenge")
	// ErrMissingChallenge is returned when the server sent no challenge header.
	ErrMissingChallenge = errors.New("client: server sent no challenge")
	// ErrBadUsername is returned for an empty or reserved username.
	ErrBadUsername = errors.New("client: invalid username")
	// ErrUnexpectedFrame is delivered when the server sends a non-text frame.
	ErrUnexpectedFrame = errors.New("client: unexpected frame from server")
)

// Options configures Connect.
type Options struct {
	// Address is the server URL, e.g. ws://127.0.0.1:2004.
	Address  string
	Username string
	// Secret is the optional shared secret. When set the client verifies the
	// server's challenge with it and sends its own proof.
	Secret string
	// Dialer overrides the default dialer.
	Dialer *websocket.Dialer
}

// Incoming is one item from the server: a message or a receive error.
type Incoming struct {
	Message protocol.Message
	Err     error
}

// RejectedError reports a handshake the server refused over HTTP.
type RejectedError struct {
	Status int
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("client: server rejected handshake with status %d: %v", e.Status, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Conn is an established chat session.
type Conn struct {
	ws       *websocket.Conn
	username string

	writeMu  sync.Mutex
	incoming chan Incoming
	closed   chan struct{}
	once     sync.Once
}

// Connect dials the server, runs the handshake and verifies its challenge.
func Connect(ctx context.Context, opts Options) (*Conn, error) {
	if opts.Username == "" || protocol.IsReservedName(opts.Username) {
		return nil, fmt.Errorf("%w: %q", ErrBadUsername, opts.Username)
	}

	header := http.Header{}
	header.Set(protocol.HeaderUsername, opts.Username)
	if opts.Secret != "" {
		proof, err := protocol.NewChallenge(opts.Secret)
		if err != nil {
			return nil, fmt.Errorf("client: build proof: %w", err)
		}
		header.Set(protocol.HeaderProof, proof)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}

	ws, resp, err := dialer.DialContext(ctx, opts.Address, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &RejectedError{Status: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("client: dial %s: %w", opts.Address, err)
	}

	if err := verifyResponse(resp, opts.Secret); err != nil {
		_ = ws.Close()
		return nil, err
	}

	c := &Conn{
		ws:       ws,
		username: opts.Username,
		incoming: make(chan Incoming, 64),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func verifyResponse(resp *http.Response, secret string) error {
	value := resp.Header.Get(protocol.HeaderChallenge)
	if value == "" {
		return ErrMissingChallenge
	}
	err := protocol.VerifyChallenge(value, secret)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, protocol.ErrChallengeEncoding):
		return fmt.Errorf("%w: %v", ErrChallengeEncoding, err)
	default:
		return fmt.Errorf("%w: %v", ErrBadPassword, err)
	}
}

// Username returns the name this connection joined with.
func (c *Conn) Username() string {
	return c.username
}

// Messages returns the stream of incoming items. It is closed when the
// connection ends.
func (c *Conn) Messages() <-chan Incoming {
	return c.incoming
}

func (c *Conn) readLoop() {
	defer close(c.incoming)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isClosed() {
				c.deliver(Incoming{Err: err})
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.deliver(Incoming{Err: fmt.Errorf("%w: type %d", ErrUnexpectedFrame, messageType)})
			continue
		}

		msg, err := protocol.Decode(data)
		c.deliver(Incoming{Message: msg, Err: err})
	}
}

func (c *Conn) deliver(item Incoming) {
	select {
	case c.incoming <- item:
	case <-c.closed:
	}
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// SendText sends one chat line.
func (c *Conn) SendText(text string) error {
	frame, err := protocol.Encode(protocol.NewText(protocol.User(c.username), text))
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.write(websocket.TextMessage, frame)
}

// SendFile sends a file as a binary frame followed immediately by a text
// frame holding its name.
func (c *Conn) SendFile(name string, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.write(websocket.BinaryMessage, data); err != nil {
		return err
	}
	return c.write(websocket.TextMessage, []byte(name))
}

// Disconnect sends a close frame. The server announces the departure to the
// other clients; the Messages stream ends once the server answers.
func (c *Conn) Disconnect() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// Close releases the connection without a close handshake.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}
