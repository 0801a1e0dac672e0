// Package ws carries the framed byte stream over WebSocket binary messages.
//
// The server side wraps gorilla/websocket connections and the client side
// wraps gobwas/ws connections. Both present a net.Conn so sessions do not care
// which transport they run on.
package ws

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	gobwas "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// ServerConn adapts a gorilla/websocket connection to net.Conn.
// Each Write sends one binary message; Read drains messages as a stream.
type ServerConn struct {
	conn   *websocket.Conn
	reader io.Reader
	mu     sync.Mutex
}

// NewServerConn wraps an upgraded gorilla connection.
func NewServerConn(conn *websocket.Conn) *ServerConn {
	return &ServerConn{conn: conn}
}

// Read returns bytes from the current message, moving on to the next data
// message when it is drained. A close frame reads as io.EOF.
func (c *ServerConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.reader == nil {
			mt, r, err := c.conn.NextReader()
			if err != nil {
				return 0, closeToEOF(err)
			}
			if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, closeToEOF(err)
	}
}

// Write sends p as one binary message.
func (c *ServerConn) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal close frame and closes the socket.
func (c *ServerConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	return c.conn.Close()
}

// LocalAddr returns the local network address.
func (c *ServerConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the peer's network address.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline sets both the read and write deadlines.
func (c *ServerConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the deadline for the next Read.
func (c *ServerConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the deadline for the next Write.
func (c *ServerConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func closeToEOF(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return io.EOF
	}
	return err
}

// ClientConn adapts a gobwas/ws client connection to net.Conn.
type ClientConn struct {
	net.Conn
	rw            io.ReadWriter
	readBuffer    []byte
	readBufferPos int
	readMu        sync.Mutex
	writeMu       sync.Mutex
}

// NewClientConn wraps a dialed connection. br holds any bytes the handshake
// read past the HTTP response and may be nil.
func NewClientConn(conn net.Conn, br *bufio.Reader) *ClientConn {
	c := &ClientConn{Conn: conn}
	var src io.Reader = conn
	if br != nil {
		src = br
	}
	c.rw = struct {
		io.Reader
		io.Writer
	}{src, lockedWriter{c}}
	return c
}

// Dial opens a WebSocket connection to url, e.g. ws://127.0.0.1:8889/ws.
func Dial(ctx context.Context, url string, timeout time.Duration) (*ClientConn, error) {
	d := gobwas.Dialer{Timeout: timeout}
	conn, br, _, err := d.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewClientConn(conn, br), nil
}

// Read returns bytes from the current server message, reading the next one
// when the buffer is empty. A close frame reads as io.EOF.
func (c *ClientConn) Read(buf []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	// Return buffered data if available
	if c.readBufferPos < len(c.readBuffer) {
		n := copy(buf, c.readBuffer[c.readBufferPos:])
		c.readBufferPos += n
		if c.readBufferPos >= len(c.readBuffer) {
			c.readBuffer = nil
			c.readBufferPos = 0
		}
		return n, nil
	}

	// Control frames are answered through rw, under writeMu.
	data, _, err := wsutil.ReadServerData(c.rw)
	if err != nil {
		var ce wsutil.ClosedError
		if errors.As(err, &ce) {
			return 0, io.EOF
		}
		return 0, err
	}

	n := copy(buf, data)
	if n < len(data) {
		c.readBuffer = data[n:]
		c.readBufferPos = 0
	}
	return n, nil
}

// Write sends p as one masked binary message.
func (c *ClientConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientBinary(c.Conn, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal close frame and closes the socket.
func (c *ClientConn) Close() error {
	c.writeMu.Lock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(closeGracePeriod))
	_ = wsutil.WriteClientMessage(c.Conn, gobwas.OpClose, gobwas.NewCloseFrameBody(gobwas.StatusNormalClosure, ""))
	c.writeMu.Unlock()
	return c.Conn.Close()
}

type lockedWriter struct {
	c *ClientConn
}

// Write sends raw bytes on the socket under the connection's write lock.
func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	return w.c.Conn.Write(p)
}
