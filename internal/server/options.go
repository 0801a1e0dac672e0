package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/tcp-simple/internal/observability"
)

// Options configures a Server. It is copied by New and not read again.
type Options struct {
	// Address is the bind IP; empty binds every interface.
	Address string
	// Port is the TCP port; 0 picks a free port.
	Port int
	// MaxConnections caps the number of registered sessions.
	MaxConnections int
	// ReceiveTimeout bounds the wait for each inbound frame; 0 disables it.
	ReceiveTimeout time.Duration
	// WriteTimeout bounds each outbound frame write; 0 disables it. A peer
	// that stops reading otherwise stalls every Broadcast.
	WriteTimeout time.Duration
	// AdmissionPollInterval is how often the accept loop re-checks capacity
	// while the registry is full.
	AdmissionPollInterval time.Duration
	// InvalidFramePause is how long a session waits after an invalid length
	// header before reading again.
	InvalidFramePause time.Duration

	// EnableWebSocket starts a second listener that carries the same frames
	// inside WebSocket binary messages.
	EnableWebSocket bool
	WebSocketPort   int
	WebSocketPath   string

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// DefaultOptions returns the stock server configuration.
func DefaultOptions() Options {
	return Options{
		Address:               "0.0.0.0",
		Port:                  8888,
		MaxConnections:        100,
		ReceiveTimeout:        30 * time.Second,
		WriteTimeout:          10 * time.Second,
		AdmissionPollInterval: 100 * time.Millisecond,
		InvalidFramePause:     500 * time.Millisecond,
		WebSocketPort:         8889,
		WebSocketPath:         "/ws",
		Logger:                zerolog.Nop(),
	}
}

// ErrInvalidOptions is wrapped by every Options validation failure.
var ErrInvalidOptions = errors.New("invalid server options")

// Validate checks Options for values the server cannot run with.
func (o Options) Validate() error {
	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	}
	if o.MaxConnections <= 0 {
		return fmt.Errorf("%w: max connections must be positive, got %d", ErrInvalidOptions, o.MaxConnections)
	}
	if o.ReceiveTimeout < 0 || o.WriteTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidOptions)
	}
	if o.EnableWebSocket {
		if o.WebSocketPort < 0 || o.WebSocketPort > 65535 {
			return fmt.Errorf("%w: websocket port %d out of range", ErrInvalidOptions, o.WebSocketPort)
		}
		if o.WebSocketPath == "" || o.WebSocketPath[0] != '/' {
			return fmt.Errorf("%w: websocket path %q must start with /", ErrInvalidOptions, o.WebSocketPath)
		}
	}
	return nil
}
