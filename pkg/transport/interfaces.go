package transport

import (
	"net"
	"time"
)

// Stream provides exact-length byte I/O over a connection.
// Implemented by Conn.
type Stream interface {
	// Handshake reads and checks the server greeting.
	Handshake() error

	// ReadExact reads exactly n bytes.
	ReadExact(n int) ([]byte, error)

	// WriteAll writes every byte of b.
	WriteAll(b []byte) error

	// SetTimeout sets the per-read timeout.
	SetTimeout(d time.Duration)

	// WaitReadable reports whether data is available within timeout.
	WaitReadable(timeout time.Duration) (bool, error)

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// Close closes the stream.
	Close() error
}

// FrameConn provides framed message I/O plus the stream lifecycle.
// Implemented by Framer.
type FrameConn interface {
	// Handshake reads and checks the server greeting.
	Handshake() error

	// ReadFrame reads the next frame.
	ReadFrame() (Frame, error)

	// WriteFrame writes a frame with the given handle.
	WriteFrame(handle uint32, payload []byte) error

	// WaitReadable reports whether data is available within timeout.
	WaitReadable(timeout time.Duration) (bool, error)

	// ConnID returns the connection identifier used in capture logs.
	ConnID() string

	// Close closes the connection.
	Close() error
}

// Compile-time interface satisfaction checks.
var (
	_ Stream    = (*Conn)(nil)
	_ FrameConn = (*Framer)(nil)
)
