package transport

import (
	"errors"
	"fmt"
)

// Connection errors. A ConnectionError means the stream is unusable.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrNoProgress       = errors.New("read returned no data")
	ErrEmptyFrame       = errors.New("frame size is zero")
	ErrZeroHandle       = errors.New("frame handle is zero")
)

// Protocol errors. A ProtocolError means the peer violated GBXRemote 2.
var (
	ErrHandshakeMismatch = errors.New("unsupported protocol")
	ErrFrameTooLarge     = errors.New("frame exceeds size limit")
	ErrUnexpectedHandle  = errors.New("unexpected handle")
)

// ErrRequestTooLarge is returned before writing a request whose payload
// exceeds the request ceiling. The connection stays usable.
var ErrRequestTooLarge = errors.New("request too large")

// ConnectionError reports an I/O failure on the underlying stream.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or unexpected message from the server.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsFatal reports whether err leaves the connection unusable.
func IsFatal(err error) bool {
	var ce *ConnectionError
	var pe *ProtocolError
	return errors.As(err, &ce) || errors.As(err, &pe)
}

func connErr(op string, err error) error {
	return &ConnectionError{Op: op, Err: err}
}

func protoErr(op string, err error) error {
	return &ProtocolError{Op: op, Err: err}
}
