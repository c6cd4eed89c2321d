package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gbxremote/gbxremote-go/pkg/log"
	"github.com/google/uuid"
)

// Protocol constants.
const (
	// ProtocolName is the greeting a GBXRemote 2 server sends on connect.
	ProtocolName = "GBXRemote 2"

	// MaxHandshakeSize bounds the greeting length prefix.
	MaxHandshakeSize = 64

	// DefaultPort is the dedicated server's default XML-RPC port.
	DefaultPort = 5000
)

// Default timeouts.
const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultHeaderTimeout    = 20 * time.Second
	DefaultChunkTimeout     = 100 * time.Millisecond
)

// minPollWindow is the shortest deadline used by WaitReadable.
const minPollWindow = time.Millisecond

// ConnectionState is the lifecycle state of a Conn.
type ConnectionState int

const (
	// StateConnected indicates an open stream.
	StateConnected ConnectionState = iota

	// StateClosed indicates Close was called or the stream failed.
	StateClosed
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Conn.
type Config struct {
	// ConnectTimeout bounds Dial when the context has no deadline.
	ConnectTimeout time.Duration

	// HandshakeTimeout bounds reading the greeting.
	HandshakeTimeout time.Duration

	// HeaderTimeout bounds reading a frame header.
	HeaderTimeout time.Duration

	// ChunkTimeout bounds every read of a frame payload. The deadline is
	// refreshed before each underlying read.
	ChunkTimeout time.Duration

	// Logger receives protocol capture events (optional).
	Logger log.Logger
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   DefaultConnectTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		HeaderTimeout:    DefaultHeaderTimeout,
		ChunkTimeout:     DefaultChunkTimeout,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.HeaderTimeout == 0 {
		c.HeaderTimeout = d.HeaderTimeout
	}
	if c.ChunkTimeout == 0 {
		c.ChunkTimeout = d.ChunkTimeout
	}
}

// Conn is a byte stream to a dedicated server with exact-length reads.
// It is not safe for concurrent reads; writes are serialized.
type Conn struct {
	config Config
	conn   net.Conn
	br     *bufio.Reader
	connID string

	timeout time.Duration

	state     atomic.Int32
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// Dial connects to address over TCP.
func Dial(ctx context.Context, address string, config Config) (*Conn, error) {
	config.applyDefaults()

	// Apply timeout from config if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	nc, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, connErr("dial", err)
	}
	return NewConn(nc, config), nil
}

// NewConn wraps an established stream.
func NewConn(nc net.Conn, config Config) *Conn {
	config.applyDefaults()
	c := &Conn{
		config:  config,
		conn:    nc,
		br:      bufio.NewReader(nc),
		connID:  uuid.New().String(),
		timeout: config.ChunkTimeout,
	}
	c.state.Store(int32(StateConnected))
	c.logState("", StateConnected.String(), "")
	return c
}

// ConnID returns the unique connection identifier used in capture logs.
func (c *Conn) ConnID() string {
	return c.connID
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// State returns the current connection state.
func (c *Conn) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Config returns the effective configuration.
func (c *Conn) Config() Config {
	return c.config
}

// SetTimeout sets the per-read timeout used by ReadExact.
// Zero disables the deadline.
func (c *Conn) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Handshake reads the server greeting and checks it names GBXRemote 2.
func (c *Conn) Handshake() error {
	prefix, err := c.readExact(4, c.config.HandshakeTimeout)
	if err != nil {
		return err
	}
	n := binary.LittleEndian.Uint32(prefix)
	if n > MaxHandshakeSize {
		return protoErr("handshake", fmt.Errorf("%w: greeting length %d", ErrHandshakeMismatch, n))
	}

	greeting, err := c.readExact(int(n), c.config.HandshakeTimeout)
	if err != nil {
		return err
	}
	name := strings.Trim(string(greeting), " \t\r\n\x00")
	if name != ProtocolName {
		return protoErr("handshake", fmt.Errorf("%w: %q", ErrHandshakeMismatch, name))
	}

	c.logState(StateConnected.String(), "HANDSHAKEN", name)
	return nil
}

// EncodeHandshake returns the greeting bytes a server sends for name.
func EncodeHandshake(name string) []byte {
	buf := make([]byte, 4+len(name))
	binary.LittleEndian.PutUint32(buf, uint32(len(name)))
	copy(buf[4:], name)
	return buf
}

// ReadExact reads exactly n bytes using the current timeout.
func (c *Conn) ReadExact(n int) ([]byte, error) {
	return c.readExact(n, c.timeout)
}

func (c *Conn) readExact(n int, timeout time.Duration) ([]byte, error) {
	if c.State() == StateClosed {
		return nil, connErr("read", ErrConnectionClosed)
	}

	buf := make([]byte, n)
	got := 0
	for got < n {
		if err := c.setReadDeadline(timeout); err != nil {
			return nil, connErr("read", err)
		}
		m, err := c.br.Read(buf[got:])
		got += m
		if got == n {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
			}
			return nil, connErr("read", fmt.Errorf("%d of %d bytes: %w", got, n, err))
		}
		if m == 0 {
			return nil, connErr("read", ErrNoProgress)
		}
	}
	return buf, nil
}

// WriteAll writes b in full.
func (c *Conn) WriteAll(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() == StateClosed {
		return connErr("write", ErrConnectionClosed)
	}

	// Writes share the header timeout; a full request can outlast a chunk.
	if c.config.HeaderTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.HeaderTimeout)); err != nil {
			return connErr("write", err)
		}
	}

	written := 0
	for written < len(b) {
		n, err := c.conn.Write(b[written:])
		written += n
		if err != nil {
			return connErr("write", err)
		}
		if n == 0 {
			return connErr("write", ErrNoProgress)
		}
	}
	return nil
}

// WaitReadable reports whether at least one byte can be read within timeout.
// It never consumes data.
func (c *Conn) WaitReadable(timeout time.Duration) (bool, error) {
	if c.State() == StateClosed {
		return false, connErr("poll", ErrConnectionClosed)
	}
	if c.br.Buffered() > 0 {
		return true, nil
	}
	if timeout < minPollWindow {
		timeout = minPollWindow
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, connErr("poll", err)
	}

	_, err := c.br.Peek(1)
	if err == nil {
		return true, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return false, nil
	}
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return false, connErr("poll", err)
}

// Close closes the stream. Any in-flight read fails.
// It is safe to call Close multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		err = c.conn.Close()
		c.logState(StateConnected.String(), StateClosed.String(), "")
	})
	return err
}

func (c *Conn) setReadDeadline(timeout time.Duration) error {
	if timeout <= 0 {
		return c.conn.SetReadDeadline(time.Time{})
	}
	return c.conn.SetReadDeadline(time.Now().Add(timeout))
}

func (c *Conn) logState(oldState, newState, reason string) {
	if !log.Enabled(c.config.Logger) {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.remoteAddrString(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (c *Conn) remoteAddrString() string {
	if a := c.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
