package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gbxremote/gbxremote-go/pkg/client"
	"github.com/gbxremote/gbxremote-go/pkg/transport"
)

// Manager errors.
var (
	ErrManagerRunning  = errors.New("manager already running")
	ErrTooManyAttempts = errors.New("too many reconnect attempts")
)

// State is the supervisor state.
type State uint8

const (
	// StateDisconnected indicates no client and no dial in progress.
	StateDisconnected State = iota

	// StateConnecting indicates a dial is in progress.
	StateConnecting

	// StateConnected indicates a ready client is being served.
	StateConnected

	// StateReconnecting indicates the manager waits to dial again.
	StateReconnecting

	// StateClosed indicates Run has returned.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc returns a handshaken (and, if needed, authenticated) client.
type DialFunc func(ctx context.Context) (*client.Client, error)

// SessionFunc serves a connected client until it fails or ctx is done.
// Returning nil ends Run.
type SessionFunc func(ctx context.Context, c *client.Client) error

// Option configures a Manager.
type Option func(*Manager)

// WithBackoff sets the backoff parameters.
func WithBackoff(cfg BackoffConfig) Option {
	return func(m *Manager) { m.backoff = NewBackoffWithConfig(cfg) }
}

// WithMaxAttempts bounds consecutive failed dials. Zero retries forever.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager dials a client, serves it, and redials after fatal errors.
type Manager struct {
	mu sync.RWMutex

	state   State
	current *client.Client
	running bool

	dial        DialFunc
	backoff     *Backoff
	maxAttempts int
	logger      *zap.Logger

	onStateChange  func(oldState, newState State)
	onConnected    func(c *client.Client)
	onReconnecting func(attempt int, delay time.Duration, cause error)
}

// NewManager creates a manager that dials with dial.
func NewManager(dial DialFunc, opts ...Option) *Manager {
	m := &Manager{
		state:   StateDisconnected,
		dial:    dial,
		backoff: NewBackoff(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether a client is being served.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Client returns the connected client, or nil.
func (m *Manager) Client() *client.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// BackoffAttempts returns the failed dials since the last success.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for each newly connected client.
func (m *Manager) OnConnected(fn func(c *client.Client)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnReconnecting sets a callback invoked before each backoff wait.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration, cause error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// Run dials and serves clients until ctx is done, the session returns
// nil, or an error that is not a fatal transport error occurs. It returns
// ctx.Err() on cancellation.
func (m *Manager) Run(ctx context.Context, session SessionFunc) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrManagerRunning
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		m.setState(StateClosed)
	}()

	for {
		m.setState(StateConnecting)
		c, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := m.retry(ctx, err); err != nil {
				return err
			}
			continue
		}

		m.backoff.Reset()
		m.setClient(c)
		m.setState(StateConnected)
		m.logger.Info("connected", zap.String("conn", c.ConnID()))
		if fn := m.connectedHook(); fn != nil {
			fn(c)
		}

		err = session(ctx, c)
		_ = c.Close()
		m.setClient(nil)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		if err := m.retry(ctx, err); err != nil {
			return err
		}
	}
}

// retry waits out the next backoff delay for a fatal cause, or returns
// the cause when it is not worth retrying.
func (m *Manager) retry(ctx context.Context, cause error) error {
	if !transport.IsFatal(cause) {
		return cause
	}
	if m.maxAttempts > 0 && m.backoff.Attempts() >= m.maxAttempts {
		return fmt.Errorf("%w: %w", ErrTooManyAttempts, cause)
	}

	m.setState(StateReconnecting)
	delay := m.backoff.Next()
	attempt := m.backoff.Attempts()

	m.logger.Warn("connection lost, reconnecting",
		zap.Error(cause),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))

	m.mu.RLock()
	fn := m.onReconnecting
	m.mu.RUnlock()
	if fn != nil {
		fn(attempt, delay, cause)
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Manager) setClient(c *client.Client) {
	m.mu.Lock()
	m.current = c
	m.mu.Unlock()
}

func (m *Manager) connectedHook() func(*client.Client) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onConnected
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	fn := m.onStateChange
	m.mu.Unlock()

	if old != s && fn != nil {
		fn(old, s)
	}
}
