package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Transport names accepted by Options.Transport.
const (
	TransportTCP       = "tcp" // frames on a plain TCP stream
	TransportWebSocket = "ws"  // frames inside binary WebSocket messages
)

// Options configures a Client.
type Options struct {
	ServerAddress string
	ServerPort    int
	// ConnectTimeout bounds the dial, including the WebSocket handshake.
	ConnectTimeout time.Duration
	// ReceiveTimeout bounds the wait for each inbound frame; 0 disables it.
	// Expiry ends the connection.
	ReceiveTimeout time.Duration
	WriteTimeout   time.Duration

	// Transport is TransportTCP or TransportWebSocket.
	Transport     string
	WebSocketPath string

	Logger zerolog.Logger
}

// DefaultOptions returns the stock client configuration.
func DefaultOptions() Options {
	return Options{
		ServerAddress:  "127.0.0.1",
		ServerPort:     8888,
		ConnectTimeout: 5 * time.Second,
		ReceiveTimeout: 30 * time.Second,
		Transport:      TransportTCP,
		WebSocketPath:  "/ws",
		Logger:         zerolog.Nop(),
	}
}

// ErrInvalidOptions is wrapped by every Options validation failure.
var ErrInvalidOptions = errors.New("invalid client options")

// Validate checks Options for values the client cannot connect with.
func (o Options) Validate() error {
	if o.ServerAddress == "" {
		return fmt.Errorf("%w: server address is required", ErrInvalidOptions)
	}
	if o.ServerPort <= 0 || o.ServerPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.ServerPort)
	}
	if o.ConnectTimeout < 0 || o.ReceiveTimeout < 0 || o.WriteTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidOptions)
	}
	switch o.Transport {
	case TransportTCP:
	case TransportWebSocket:
		if o.WebSocketPath == "" || o.WebSocketPath[0] != '/' {
			return fmt.Errorf("%w: websocket path %q must start with /", ErrInvalidOptions, o.WebSocketPath)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidOptions, o.Transport)
	}
	return nil
}
