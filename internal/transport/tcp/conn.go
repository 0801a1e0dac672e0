// Package tcp provides the raw TCP dial and listen helpers used by the server
// and client.
package tcp

import (
	"context"
	"errors"
	"net"
	"time"
)

const keepAlive = 30 * time.Second

// Dial connects to addr. A positive timeout bounds the attempt in addition to ctx.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{
		Timeout:   timeout,
		KeepAlive: keepAlive,
	}
	return d.DialContext(ctx, "tcp", addr)
}

// Listen binds addr for stream connections.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: keepAlive}
	return lc.Listen(ctx, "tcp", addr)
}

// IsTimeout reports whether err came from an expired deadline or context.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
