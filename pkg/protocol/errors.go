package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidLength  = errors.New("protocol: invalid message length")
	ErrShortHeader    = errors.New("protocol: short length header")
	ErrShortPayload   = errors.New("protocol: connection closed mid-payload")
	ErrNotConnected   = errors.New("not connected")
	ErrConnectTimeout = errors.New("connect timeout")
)

// ProtocolError reports a declared frame length outside [1, MaxMessageSize].
type ProtocolError struct {
	Length int64
}

// Error reports the rejected length and the allowed range.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: invalid message length %d (allowed 1..%d)", e.Length, MaxMessageSize)
}

// Is lets errors.Is match ErrInvalidLength.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrInvalidLength
}

// ConnectionError reports a failure to connect or to use a connection.
type ConnectionError struct {
	Op  string
	Err error
}

// Error formats the operation and its cause.
func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "connection: " + e.Op
	}
	return fmt.Sprintf("connection: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}
