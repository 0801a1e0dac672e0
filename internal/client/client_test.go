package client_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/tcp-simple/internal/client"
	"github.com/omochice/tcp-simple/internal/server"
	"github.com/omochice/tcp-simple/internal/session"
	"github.com/omochice/tcp-simple/pkg/protocol"
)

// recorder collects client notifications.
type recorder struct {
	messages     chan string
	mu           sync.Mutex
	errs         []error
	disconnected int
}

func newRecorder() *recorder {
	return &recorder{messages: make(chan string, 16)}
}

func (r *recorder) handlers() client.Handlers {
	return client.Handlers{
		OnMessage: func(text string) { r.messages <- text },
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnDisconnected: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.disconnected++
		},
	}
}

func (r *recorder) disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) next(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-r.messages:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("bad port %q: %v", portStr, err)
	}
	return host, port
}

// startEchoServer runs a server that answers every frame with "received: <frame>".
func startEchoServer(t *testing.T, webSocket bool) *server.Server {
	t.Helper()
	opts := server.DefaultOptions()
	opts.Address = "127.0.0.1"
	opts.Port = 0
	opts.EnableWebSocket = webSocket
	opts.WebSocketPort = 0
	opts.AdmissionPollInterval = 10 * time.Millisecond
	opts.Logger = zerolog.Nop()

	srv, err := server.New(opts, server.Handlers{
		OnMessage: func(srv *server.Server, clientID, message string) {
			srv.SendToClient(clientID, "received: "+message)
		},
	})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("server.Start() error = %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func newClient(t *testing.T, addr string, rec *recorder) *client.Client {
	t.Helper()
	opts := client.DefaultOptions()
	opts.ServerAddress, opts.ServerPort = splitAddr(t, addr)
	opts.ConnectTimeout = time.Second
	opts.Logger = zerolog.Nop()

	c, err := client.New(opts, rec.handlers())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func TestNew_RequiresHandler(t *testing.T) {
	if _, err := client.New(client.DefaultOptions(), client.Handlers{}); !errors.Is(err, client.ErrNilHandler) {
		t.Errorf("New() error = %v, want ErrNilHandler", err)
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*client.Options)
		wantErr bool
	}{
		{name: "defaults", modify: func(*client.Options) {}},
		{name: "websocket", modify: func(o *client.Options) { o.Transport = client.TransportWebSocket }},
		{name: "empty address", modify: func(o *client.Options) { o.ServerAddress = "" }, wantErr: true},
		{name: "zero port", modify: func(o *client.Options) { o.ServerPort = 0 }, wantErr: true},
		{name: "negative timeout", modify: func(o *client.Options) { o.ConnectTimeout = -1 }, wantErr: true},
		{name: "unknown transport", modify: func(o *client.Options) { o.Transport = "udp" }, wantErr: true},
		{name: "relative websocket path", modify: func(o *client.Options) {
			o.Transport = client.TransportWebSocket
			o.WebSocketPath = "ws"
		}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := client.DefaultOptions()
			tt.modify(&opts)
			err := opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, client.ErrInvalidOptions) {
				t.Errorf("Validate() error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestClient_SendWithoutConnection(t *testing.T) {
	c := newClient(t, "127.0.0.1:8888", newRecorder())

	err := c.Send("hello")
	var connErr *protocol.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Send() error = %v, want *ConnectionError", err)
	}
	if !errors.Is(err, protocol.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if c.State() != session.StateDisconnected {
		t.Errorf("State() = %v, want DISCONNECTED", c.State())
	}
}

func TestClient_ConnectSendReceive(t *testing.T) {
	srv := startEchoServer(t, false)
	rec := newRecorder()
	c := newClient(t, srv.Addr(), rec)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Connect(); err != nil {
		t.Errorf("second Connect() error = %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}
	if c.RemoteAddr() != srv.Addr() {
		t.Errorf("RemoteAddr() = %q, want %q", c.RemoteAddr(), srv.Addr())
	}

	for _, msg := range []string{"one", "two", "こんにちは"} {
		if err := c.Send(msg); err != nil {
			t.Fatalf("Send(%q) error = %v", msg, err)
		}
		if got := rec.next(t); got != "received: "+msg {
			t.Errorf("reply = %q, want %q", got, "received: "+msg)
		}
	}
	waitFor(t, "server registration", func() bool { return srv.ClientCount() == 1 })
}

func TestClient_SendRejectsUnframeableText(t *testing.T) {
	srv := startEchoServer(t, false)
	c := newClient(t, srv.Addr(), newRecorder())
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := c.Send(""); !errors.Is(err, protocol.ErrInvalidLength) {
		t.Errorf("Send(\"\") error = %v, want ErrInvalidLength", err)
	}
	if !c.IsConnected() {
		t.Error("connection closed after rejected send")
	}
}

func TestClient_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := newClient(t, addr, newRecorder())
	err = c.Connect()
	var connErr *protocol.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want *ConnectionError", err)
	}
	if errors.Is(err, protocol.ErrConnectTimeout) {
		t.Errorf("refused connect reported as timeout: %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after failed connect")
	}
}

func TestClient_ConnectTimeout(t *testing.T) {
	c := newClient(t, "127.0.0.1:8888", newRecorder())

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := c.ConnectContext(ctx)
	if !errors.Is(err, protocol.ErrConnectTimeout) {
		t.Errorf("ConnectContext() error = %v, want ErrConnectTimeout", err)
	}
	if c.State() != session.StateDisconnected {
		t.Errorf("State() = %v, want DISCONNECTED", c.State())
	}
}

func TestClient_DisconnectIdempotent(t *testing.T) {
	srv := startEchoServer(t, false)
	rec := newRecorder()
	c := newClient(t, srv.Addr(), rec)

	c.Disconnect()
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	c.Disconnect()
	c.Disconnect()

	if got := rec.disconnects(); got != 1 {
		t.Errorf("disconnect notifications = %d, want 1", got)
	}
	if len(rec.errors()) != 0 {
		t.Errorf("local disconnect reported errors: %v", rec.errors())
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if err := c.Send("late"); !errors.Is(err, protocol.ErrNotConnected) {
		t.Errorf("Send() after Disconnect error = %v, want ErrNotConnected", err)
	}
	waitFor(t, "server deregistration", func() bool { return srv.ClientCount() == 0 })
}

func TestClient_Reconnect(t *testing.T) {
	srv := startEchoServer(t, false)
	rec := newRecorder()
	c := newClient(t, srv.Addr(), rec)

	for i := 0; i < 2; i++ {
		if err := c.Connect(); err != nil {
			t.Fatalf("Connect() #%d error = %v", i, err)
		}
		if err := c.Send("ping"); err != nil {
			t.Fatalf("Send() #%d error = %v", i, err)
		}
		if got := rec.next(t); got != "received: ping" {
			t.Errorf("reply #%d = %q", i, got)
		}
		c.Disconnect()
	}
	if got := rec.disconnects(); got != 2 {
		t.Errorf("disconnect notifications = %d, want 2", got)
	}
}

func TestClient_ServerStopDisconnects(t *testing.T) {
	srv := startEchoServer(t, false)
	rec := newRecorder()
	c := newClient(t, srv.Addr(), rec)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "server registration", func() bool { return srv.ClientCount() == 1 })

	srv.Stop()

	waitFor(t, "disconnect notification", func() bool { return rec.disconnects() == 1 })
	if c.IsConnected() {
		t.Error("IsConnected() = true after server stop")
	}
	if len(rec.errors()) != 0 {
		t.Errorf("graceful close reported errors: %v", rec.errors())
	}
}

func TestClient_InvalidLengthClosesConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
		time.Sleep(time.Second)
	}()

	rec := newRecorder()
	c := newClient(t, ln.Addr().String(), rec)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitFor(t, "disconnect notification", func() bool { return rec.disconnects() == 1 })
	errs := rec.errors()
	if len(errs) != 1 || !errors.Is(errs[0], protocol.ErrInvalidLength) {
		t.Errorf("errors = %v, want one ErrInvalidLength", errs)
	}
}

func TestClient_WriteFailureDisconnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// The peer accepts and holds the connection without ever reading.
	held := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		held <- conn
	}()
	t.Cleanup(func() {
		select {
		case conn := <-held:
			conn.Close()
		default:
		}
	})

	rec := newRecorder()
	opts := client.DefaultOptions()
	opts.ServerAddress, opts.ServerPort = splitAddr(t, ln.Addr().String())
	opts.ConnectTimeout = time.Second
	opts.WriteTimeout = 100 * time.Millisecond
	opts.Logger = zerolog.Nop()
	c, err := client.New(opts, rec.handlers())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Disconnect)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	payload := strings.Repeat("x", protocol.MaxMessageSize)
	var sendErr error
	for i := 0; i < 200 && sendErr == nil; i++ {
		sendErr = c.Send(payload)
	}
	if sendErr == nil {
		t.Fatal("Send() never failed against a peer that does not read")
	}

	var connErr *protocol.ConnectionError
	if !errors.As(sendErr, &connErr) {
		t.Fatalf("Send() error = %T %v, want *ConnectionError", sendErr, sendErr)
	}
	if errors.Is(sendErr, protocol.ErrNotConnected) {
		t.Errorf("Send() error = %v, want the write failure", sendErr)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after write failure")
	}

	waitFor(t, "disconnect notification", func() bool { return rec.disconnects() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := rec.disconnects(); got != 1 {
		t.Errorf("disconnect notifications = %d, want 1", got)
	}

	if err := c.Send("after failure"); !errors.Is(err, protocol.ErrNotConnected) {
		t.Errorf("Send() after failure error = %v, want ErrNotConnected", err)
	}
}

func TestClient_WebSocketTransport(t *testing.T) {
	srv := startEchoServer(t, true)
	rec := newRecorder()

	opts := client.DefaultOptions()
	opts.ServerAddress, opts.ServerPort = splitAddr(t, srv.WebSocketAddr())
	opts.Transport = client.TransportWebSocket
	opts.ConnectTimeout = time.Second
	opts.Logger = zerolog.Nop()

	c, err := client.New(opts, rec.handlers())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Disconnect()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Send("via websocket"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := rec.next(t); got != "received: via websocket" {
		t.Errorf("reply = %q", got)
	}

	c.Disconnect()
	waitFor(t, "server deregistration", func() bool { return srv.ClientCount() == 0 })
}
