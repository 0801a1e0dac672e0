package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/omochice/tcp-simple/internal/transport/tcp"
	"github.com/omochice/tcp-simple/internal/transport/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; there is no browser-facing surface
	},
}

// startWebSocket binds the WebSocket listener. Called from Start with s.mu held.
func (s *Server) startWebSocket() error {
	addr := net.JoinHostPort(s.opts.Address, strconv.Itoa(s.opts.WebSocketPort))
	listener, err := tcp.Listen(context.Background(), addr)
	if err != nil {
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}

	router := chi.NewRouter()
	router.Get(s.opts.WebSocketPath, s.handleWebSocket)

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.wsListener = listener
	s.wsServer = srv

	s.log.Info().Str("addr", listener.Addr().String()).Str("path", s.opts.WebSocketPath).
		Msg("WebSocket server started")

	quit := s.quit
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case <-quit:
			default:
				s.log.Error().Err(err).Msg("WebSocket server error")
				s.reportError(err)
			}
		}
	}()
	return nil
}

// handleWebSocket admits one WebSocket client. The upgrade is held back while
// the server is at capacity, the same way TCP accepts are.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	quit := s.quit
	s.mu.Unlock()

	if !s.reserve(quit) {
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.release()
		s.log.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	s.register(ws.NewServerConn(conn), transportWebSocket)
}
