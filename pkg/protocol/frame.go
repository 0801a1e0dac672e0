// Package protocol implements the length-prefixed framing used on the wire.
//
// A frame is a 4-byte big-endian length followed by that many bytes of UTF-8
// text. The length must be in [1, MaxMessageSize].
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	// LengthHeaderSize is the size of the length prefix in bytes.
	LengthHeaderSize = 4
	// MaxMessageSize is the largest payload a peer may declare (1 MiB).
	MaxMessageSize = 1024 * 1024
)

// Encode encodes text into a frame.
// The payload size is not checked here; use Validate before writing to a peer.
func Encode(text string) []byte {
	buf := make([]byte, LengthHeaderSize+len(text))
	binary.BigEndian.PutUint32(buf[:LengthHeaderSize], uint32(len(text)))
	copy(buf[LengthHeaderSize:], text)
	return buf
}

// Validate reports whether text fits in a single frame.
func Validate(text string) error {
	if n := len(text); n == 0 || n > MaxMessageSize {
		return &ProtocolError{Length: int64(n)}
	}
	return nil
}

// DecodeLength interprets a length header.
// The header is read as a signed 32-bit value, so 0xFFFFFFFF is -1.
func DecodeLength(header []byte) (int, error) {
	if len(header) != LengthHeaderSize {
		return 0, fmt.Errorf("protocol: length header must be %d bytes, got %d", LengthHeaderSize, len(header))
	}
	length := int32(binary.BigEndian.Uint32(header))
	if length <= 0 || length > MaxMessageSize {
		return 0, &ProtocolError{Length: int64(length)}
	}
	return int(length), nil
}

// Decode decodes one complete frame held in memory.
func Decode(frame []byte) (string, error) {
	if len(frame) < LengthHeaderSize {
		return "", ErrShortHeader
	}
	length, err := DecodeLength(frame[:LengthHeaderSize])
	if err != nil {
		return "", err
	}
	payload := frame[LengthHeaderSize:]
	if len(payload) < length {
		return "", ErrShortPayload
	}
	return decodeText(payload[:length]), nil
}

// ReadFrame reads exactly one frame from r.
//
// A header cut short by end of stream returns io.EOF. An invalid length returns
// a *ProtocolError and no payload bytes are consumed. A payload cut short
// returns ErrShortPayload.
func ReadFrame(r io.Reader) (string, error) {
	var header [LengthHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", io.EOF
		}
		return "", err
	}

	length, err := DecodeLength(header[:])
	if err != nil {
		return "", err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", ErrShortPayload
		}
		return "", err
	}
	return decodeText(payload), nil
}

// WriteFrame writes text as a single frame with one Write call.
func WriteFrame(w io.Writer, text string) error {
	if _, err := w.Write(Encode(text)); err != nil {
		return err
	}
	return nil
}

func decodeText(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	return strings.ToValidUTF8(string(payload), "\uFFFD")
}
