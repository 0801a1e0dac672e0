// Package server accepts framed connections, keeps a registry of client
// sessions, and offers targeted send and broadcast.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/tcp-simple/internal/registry"
	"github.com/omochice/tcp-simple/internal/session"
	"github.com/omochice/tcp-simple/internal/transport/tcp"
	"github.com/omochice/tcp-simple/pkg/protocol"
)

const (
	transportTCP       = "tcp"
	transportWebSocket = "websocket"
)

// ErrNilHandler is returned by New when no message handler is supplied.
var ErrNilHandler = errors.New("server: message handler is required")

// MessageHandler is called for every frame received from a client, in order
// per client, on that client's read goroutine.
type MessageHandler func(srv *Server, clientID, message string)

// Handlers are the server's notification sinks. Only OnMessage is required.
type Handlers struct {
	OnMessage            MessageHandler
	OnClientDisconnected func(clientID string)
	OnError              func(err error)
}

// Server is a framed-message server.
type Server struct {
	opts     Options
	handlers Handlers
	log      zerolog.Logger
	registry *registry.Registry

	mu         sync.Mutex
	running    bool
	pending    int
	listener   net.Listener
	wsListener net.Listener
	wsServer   *http.Server
	quit       chan struct{}
	wg         sync.WaitGroup

	nextID atomic.Uint64
}

// New creates a Server. Call Start to begin accepting connections.
func New(opts Options, handlers Handlers) (*Server, error) {
	if handlers.OnMessage == nil {
		return nil, ErrNilHandler
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.AdmissionPollInterval <= 0 {
		opts.AdmissionPollInterval = DefaultOptions().AdmissionPollInterval
	}
	return &Server{
		opts:     opts,
		handlers: handlers,
		log:      opts.Logger,
		registry: registry.New(),
	}, nil
}

// Start binds the listener(s) and returns once the accept loop is running.
// Calling Start on a running server does nothing.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr := net.JoinHostPort(s.opts.Address, strconv.Itoa(s.opts.Port))
	listener, err := tcp.Listen(context.Background(), addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.quit = make(chan struct{})

	if s.opts.EnableWebSocket {
		if err := s.startWebSocket(); err != nil {
			listener.Close()
			s.listener = nil
			return err
		}
	}

	s.running = true
	s.log.Info().Str("addr", listener.Addr().String()).Int("max_connections", s.opts.MaxConnections).
		Msg("Server started")

	s.wg.Add(1)
	go s.acceptLoop(listener, s.quit)
	return nil
}

// Stop closes the listener(s) and every session, clears the registry, and
// waits for all server goroutines to exit. It must not be called from a
// handler.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.quit)
	listener, wsServer := s.listener, s.wsServer
	s.listener, s.wsListener, s.wsServer = nil, nil, nil
	s.mu.Unlock()

	listener.Close()
	if wsServer != nil {
		wsServer.Close()
	}

	for _, sess := range s.registry.Clear() {
		sess.Close()
	}

	s.wg.Wait()
	s.log.Info().Msg("Server stopped")
}

// IsRunning reports whether Start has succeeded and Stop has not been called.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the TCP listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// WebSocketAddr returns the WebSocket listening address, if enabled.
func (s *Server) WebSocketAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wsListener != nil {
		return s.wsListener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of registered clients.
func (s *Server) ClientCount() int {
	return s.registry.Len()
}

// Clients returns the ids of registered clients in no particular order.
func (s *Server) Clients() []string {
	return s.registry.IDs()
}

// SendToClient sends text to one client. An unknown or disconnected client is
// a silent no-op. Write failures go to OnError and are not returned; the
// result only says whether the frame was written.
func (s *Server) SendToClient(clientID, text string) bool {
	if clientID == "" || !s.IsRunning() {
		return false
	}
	sess, ok := s.registry.Lookup(clientID)
	if !ok || !sess.IsConnected() {
		return false
	}
	if err := sess.Send(text); err != nil {
		s.opts.Metrics.SendFailed()
		s.log.Warn().Err(err).Str("client", clientID).Msg("Failed to send message to client")
		s.reportError(fmt.Errorf("send to %s: %w", clientID, err))
		return false
	}
	s.opts.Metrics.FrameSent()
	return true
}

// Broadcast sends text to every registered client. A failure on one client
// is logged and skipped.
func (s *Server) Broadcast(text string) {
	s.BroadcastExcept("", text)
}

// BroadcastExcept sends text to every registered client other than exclude.
func (s *Server) BroadcastExcept(exclude, text string) {
	if !s.IsRunning() {
		return
	}
	for _, sess := range s.registry.Snapshot() {
		if sess.ID() == exclude || !sess.IsConnected() {
			continue
		}
		if err := sess.Send(text); err != nil {
			s.opts.Metrics.SendFailed()
			s.log.Debug().Err(err).Str("client", sess.ID()).Msg("Broadcast skipped client")
			continue
		}
		s.opts.Metrics.FrameSent()
	}
}

func (s *Server) acceptLoop(listener net.Listener, quit <-chan struct{}) {
	defer s.wg.Done()

	for {
		if !s.waitForCapacity(quit) {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error().Err(err).Msg("Failed to accept connection")
			s.reportError(err)
			continue
		}

		// A WebSocket upgrade may have taken the free slot since the
		// capacity check; hold the accepted conn until one opens again.
		if !s.reserve(quit) {
			conn.Close()
			return
		}
		s.register(conn, transportTCP)
	}
}

// waitForCapacity blocks until the registry has room but claims nothing.
// It returns false once the server is stopping.
func (s *Server) waitForCapacity(quit <-chan struct{}) bool {
	return s.admit(quit, false)
}

// reserve blocks until a registry slot is free and claims it. It returns
// false once the server is stopping.
func (s *Server) reserve(quit <-chan struct{}) bool {
	return s.admit(quit, true)
}

func (s *Server) admit(quit <-chan struct{}, claim bool) bool {
	waited := false
	for {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return false
		}
		if s.registry.Len()+s.pending < s.opts.MaxConnections {
			if claim {
				s.pending++
			}
			s.mu.Unlock()
			return true
		}
		s.mu.Unlock()

		if !waited {
			waited = true
			s.opts.Metrics.AdmissionWait()
			s.log.Debug().Int("max_connections", s.opts.MaxConnections).Msg("Connection limit reached, waiting")
		}

		select {
		case <-quit:
			return false
		case <-time.After(s.opts.AdmissionPollInterval):
		}
	}
}

func (s *Server) release() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
}

// register turns a reserved slot into a running session.
func (s *Server) register(conn net.Conn, transport string) {
	s.mu.Lock()
	s.pending--
	if !s.running {
		s.mu.Unlock()
		conn.Close()
		return
	}
	sess := s.insertSession(conn)
	s.wg.Add(1)
	s.mu.Unlock()

	s.opts.Metrics.ConnectionOpened(transport)
	s.log.Info().Str("client", sess.ID()).Str("transport", transport).Msg("Client connected")

	go func() {
		defer s.wg.Done()
		sess.Run()
	}()
}

// insertSession registers conn under its remote address, falling back to a
// generated id when the address is unknown or already taken.
func (s *Server) insertSession(conn net.Conn) *session.Session {
	var id string
	if addr := conn.RemoteAddr(); addr != nil {
		id = addr.String()
	}
	for {
		if id != "" {
			sess := session.New(id, conn, s.sessionConfig(), s.sessionHandlers())
			if s.registry.Insert(id, sess) {
				return sess
			}
		}
		id = "conn-" + strconv.FormatUint(s.nextID.Add(1), 10)
	}
}

func (s *Server) sessionConfig() session.Config {
	return session.Config{
		ReceiveTimeout:        s.opts.ReceiveTimeout,
		WriteTimeout:          s.opts.WriteTimeout,
		TolerateInvalidLength: true,
		InvalidFramePause:     s.opts.InvalidFramePause,
		Logger:                s.log,
	}
}

func (s *Server) sessionHandlers() session.Handlers {
	return session.Handlers{
		OnMessage: func(sess *session.Session, text string) {
			s.opts.Metrics.FrameReceived()
			s.handlers.OnMessage(s, sess.ID(), text)
		},
		OnError: func(sess *session.Session, err error) {
			if errors.Is(err, protocol.ErrInvalidLength) {
				s.opts.Metrics.ProtocolError()
			}
			s.log.Warn().Err(err).Str("client", sess.ID()).Msg("Client error")
			s.reportError(fmt.Errorf("client %s: %w", sess.ID(), err))
		},
		OnDisconnect: func(sess *session.Session) {
			s.registry.Remove(sess.ID())
			s.opts.Metrics.ConnectionClosed()
			s.log.Info().Str("client", sess.ID()).Msg("Client disconnected")
			if s.handlers.OnClientDisconnected != nil {
				s.handlers.OnClientDisconnected(sess.ID())
			}
		},
	}
}

func (s *Server) reportError(err error) {
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}
