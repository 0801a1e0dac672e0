// Package client connects to a framed-message server over TCP or WebSocket
// and runs one session against it.
package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/tcp-simple/internal/session"
	"github.com/omochice/tcp-simple/internal/transport/tcp"
	"github.com/omochice/tcp-simple/internal/transport/ws"
	"github.com/omochice/tcp-simple/pkg/protocol"
)

// ErrNilHandler is returned by New when no message handler is supplied.
var ErrNilHandler = errors.New("client: message handler is required")

// Handlers receive notifications from the receive loop goroutine.
// Only OnMessage is required.
type Handlers struct {
	OnMessage      func(text string)
	OnDisconnected func()
	OnError        func(err error)
}

// Client owns at most one session at a time.
type Client struct {
	opts     Options
	handlers Handlers
	log      zerolog.Logger

	// connMu serializes Connect and Disconnect.
	connMu sync.Mutex

	mu         sync.Mutex
	connecting bool
	sess       *session.Session
}

// New creates a Client. Call Connect to open the connection.
func New(opts Options, handlers Handlers) (*Client, error) {
	if handlers.OnMessage == nil {
		return nil, ErrNilHandler
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		opts:     opts,
		handlers: handlers,
		log:      opts.Logger,
	}, nil
}

// Connect is ConnectContext with a background context.
func (c *Client) Connect() error {
	return c.ConnectContext(context.Background())
}

// ConnectContext dials the server and starts the receive loop in the
// background. It does nothing when already connected.
func (c *Client) ConnectContext(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.IsConnected() {
		return nil
	}

	c.mu.Lock()
	c.connecting = true
	c.mu.Unlock()

	conn, err := c.dial(ctx)

	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()

	if err != nil {
		if tcp.IsTimeout(err) {
			c.log.Warn().Err(err).Str("server", c.target()).Msg("Connect timed out")
			return &protocol.ConnectionError{Op: "connect", Err: protocol.ErrConnectTimeout}
		}
		c.log.Warn().Err(err).Str("server", c.target()).Msg("Failed to connect")
		return &protocol.ConnectionError{Op: "connect", Err: err}
	}

	id := c.target()
	if addr := conn.RemoteAddr(); addr != nil {
		id = addr.String()
	}
	sess := session.New(id, conn, session.Config{
		ReceiveTimeout: c.opts.ReceiveTimeout,
		WriteTimeout:   c.opts.WriteTimeout,
		Logger:         c.log,
	}, c.sessionHandlers())

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	c.log.Info().Str("server", id).Str("transport", c.opts.Transport).Msg("Connected")
	go sess.Run()
	return nil
}

func (c *Client) target() string {
	return net.JoinHostPort(c.opts.ServerAddress, strconv.Itoa(c.opts.ServerPort))
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.opts.Transport == TransportWebSocket {
		conn, err := ws.Dial(ctx, "ws://"+c.target()+c.opts.WebSocketPath, c.opts.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return tcp.Dial(ctx, c.target(), c.opts.ConnectTimeout)
}

func (c *Client) sessionHandlers() session.Handlers {
	return session.Handlers{
		OnMessage: func(_ *session.Session, text string) {
			c.handlers.OnMessage(text)
		},
		OnError: func(_ *session.Session, err error) {
			c.log.Warn().Err(err).Msg("Connection error")
			if c.handlers.OnError != nil {
				c.handlers.OnError(err)
			}
		},
		OnDisconnect: func(_ *session.Session) {
			c.log.Info().Msg("Disconnected")
			if c.handlers.OnDisconnected != nil {
				c.handlers.OnDisconnected()
			}
		},
	}
}

func (c *Client) session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Send writes text as one frame. Text that cannot be framed is rejected with
// a *protocol.ProtocolError and the connection stays open; a write failure
// closes the connection.
func (c *Client) Send(text string) error {
	sess := c.session()
	if sess == nil || !sess.IsConnected() {
		return &protocol.ConnectionError{Op: "send", Err: protocol.ErrNotConnected}
	}

	err := sess.Send(text)
	if err == nil {
		return nil
	}
	var perr *protocol.ProtocolError
	if errors.As(err, &perr) {
		return err
	}
	if !errors.Is(err, protocol.ErrNotConnected) {
		c.log.Warn().Err(err).Msg("Failed to send message")
		sess.Close()
	}
	return &protocol.ConnectionError{Op: "send", Err: err}
}

// Disconnect closes the connection and waits for the receive loop to finish.
// It is safe to call more than once. It must not be called from a handler.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	sess := c.session()
	if sess == nil {
		return
	}
	sess.Close()
	sess.Wait()
}

// IsConnected reports whether the client can send.
func (c *Client) IsConnected() bool {
	return c.State() == session.StateConnected
}

// State returns the connection state.
func (c *Client) State() session.State {
	c.mu.Lock()
	connecting, sess := c.connecting, c.sess
	c.mu.Unlock()

	switch {
	case connecting:
		return session.StateConnecting
	case sess == nil:
		return session.StateDisconnected
	default:
		return sess.State()
	}
}

// RemoteAddr returns the server address of the current connection, or "".
func (c *Client) RemoteAddr() string {
	sess := c.session()
	if sess == nil || !sess.IsConnected() {
		return ""
	}
	return sess.RemoteAddr()
}
