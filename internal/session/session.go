// Package session runs the framed read loop and serialized write path for one
// open connection. Both the server and the client build on it.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/tcp-simple/pkg/protocol"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Handlers are invoked from the session's read loop goroutine.
// OnError, when it fires for a terminal failure, always runs before OnDisconnect.
type Handlers struct {
	OnMessage    func(s *Session, text string)
	OnError      func(s *Session, err error)
	OnDisconnect func(s *Session)
}

// Config tunes one session. A zero Config disables both timeouts.
type Config struct {
	// ReceiveTimeout bounds the wait for each frame. Expiry ends the session.
	ReceiveTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// TolerateInvalidLength keeps the session open after an invalid length
	// header: the error is reported, the loop pauses and then keeps reading.
	TolerateInvalidLength bool
	InvalidFramePause     time.Duration
	Logger                zerolog.Logger
}

// Session is one live connection speaking the framed protocol.
type Session struct {
	id       string
	conn     net.Conn
	cfg      Config
	handlers Handlers
	log      zerolog.Logger

	mu            sync.Mutex
	state         State
	started       bool
	closedLocally bool
	closing       chan struct{}

	writeMu    sync.Mutex
	done       chan struct{}
	finishOnce sync.Once
}

// New wraps an established connection. The session starts in StateConnected;
// call Run to start reading.
func New(id string, conn net.Conn, cfg Config, handlers Handlers) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		cfg:      cfg,
		handlers: handlers,
		log:      cfg.Logger.With().Str("client", id).Logger(),
		state:    StateConnected,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the identifier assigned by the owner.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer address, or "" if unknown.
func (s *Session) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session can still send.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Done is closed once the session has ended and its disconnect handler ran.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session has ended.
// It must not be called from one of the session's own handlers.
func (s *Session) Wait() {
	<-s.done
}

// Send writes text as one frame. Concurrent calls are serialized so frames
// never interleave on the wire.
func (s *Session) Send(text string) error {
	if !s.IsConnected() {
		return protocol.ErrNotConnected
	}
	if err := protocol.Validate(text); err != nil {
		return err
	}

	frame := protocol.Encode(text)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close ends the session. It is safe to call more than once and from any
// goroutine, including the session's own handlers.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisconnected
	s.closedLocally = true
	started := s.started
	close(s.closing)
	s.mu.Unlock()

	err := s.conn.Close()
	if !started {
		s.finish()
	}
	return err
}

// Run reads frames until the connection ends. Only the first call does any
// work; later calls return immediately.
func (s *Session) Run() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	if s.state == StateDisconnected {
		// Closed before the loop started; Close already notified.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	err := s.readLoop()

	s.mu.Lock()
	local := s.closedLocally
	s.state = StateDisconnected
	s.mu.Unlock()

	_ = s.conn.Close()

	if err != nil && !local {
		s.log.Debug().Err(err).Msg("session ended with error")
		s.reportError(err)
	}
	s.finish()
}

func (s *Session) readLoop() error {
	for {
		if s.cfg.ReceiveTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReceiveTimeout)); err != nil {
				return err
			}
		}

		text, err := protocol.ReadFrame(s.conn)
		switch {
		case err == nil:
			if s.handlers.OnMessage != nil {
				s.handlers.OnMessage(s, text)
			}
		case errors.Is(err, io.EOF):
			s.log.Debug().Msg("peer closed connection")
			return nil
		case errors.Is(err, protocol.ErrShortPayload):
			s.log.Debug().Msg("peer disconnected mid-frame")
			return nil
		case errors.Is(err, protocol.ErrInvalidLength) && s.cfg.TolerateInvalidLength:
			s.log.Warn().Err(err).Msg("discarding invalid frame header")
			s.reportError(err)
			if !s.pause() {
				return nil
			}
		default:
			return err
		}
	}
}

// pause waits out InvalidFramePause. It returns false if the session was
// closed meanwhile.
func (s *Session) pause() bool {
	if s.cfg.InvalidFramePause <= 0 {
		return true
	}
	timer := time.NewTimer(s.cfg.InvalidFramePause)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.closing:
		return false
	}
}

func (s *Session) reportError(err error) {
	if s.handlers.OnError != nil {
		s.handlers.OnError(s, err)
	}
}

func (s *Session) finish() {
	s.finishOnce.Do(func() {
		if s.handlers.OnDisconnect != nil {
			s.handlers.OnDisconnect(s)
		}
		close(s.done)
	})
}
