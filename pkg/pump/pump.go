package pump

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

// Default timings.
const (
	DefaultInterval    = 50 * time.Millisecond
	DefaultPollTimeout = 5 * time.Millisecond
)

// ErrStopped is returned by Do when the pump is not running.
var ErrStopped = errors.New("pump stopped")

// Source is the callback side of a client.
type Source interface {
	PollCallbacks(timeout time.Duration) (bool, error)
	PopCallback() (xmlrpc.Callback, bool)
}

// Config configures a Pump.
type Config struct {
	// Interval between polls.
	Interval time.Duration

	// PollTimeout bounds each wait for inbound data.
	PollTimeout time.Duration

	// Logger for operational logs.
	Logger *zap.Logger
}

type job struct {
	fn   func() error
	done chan error
}

// Pump polls a Source and dispatches its callbacks.
type Pump struct {
	src    Source
	disp   *Dispatcher
	config Config

	jobs    chan job
	running chan struct{}
	stopped chan struct{}
}

// New creates a pump. Zero config fields get their defaults.
func New(src Source, disp *Dispatcher, config Config) *Pump {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.PollTimeout < 0 {
		config.PollTimeout = 0
	} else if config.PollTimeout == 0 {
		config.PollTimeout = DefaultPollTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Pump{
		src:     src,
		disp:    disp,
		config:  config,
		jobs:    make(chan job),
		running: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run polls and dispatches until ctx is done or the source fails. It
// returns the source error, or ctx.Err() on cancellation. Run must be
// called once.
func (p *Pump) Run(ctx context.Context) error {
	close(p.running)
	defer close(p.stopped)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case j := <-p.jobs:
			err := j.fn()
			p.drain()
			j.done <- err

		case <-ticker.C:
			if err := p.Poll(); err != nil {
				p.config.Logger.Warn("callback pump stopped", zap.Error(err))
				return err
			}
		}
	}
}

// Poll reads pending callbacks once and dispatches them. Run calls it on
// every tick; it is exported for callers that drive the loop themselves.
func (p *Pump) Poll() error {
	_, err := p.src.PollCallbacks(p.config.PollTimeout)
	// Callbacks read before a failure are still delivered.
	p.drain()
	return err
}

// Do runs fn on the pump goroutine and returns its error. Callbacks that
// fn causes to be queued are dispatched after fn returns and before Do
// does.
func (p *Pump) Do(ctx context.Context, fn func() error) error {
	select {
	case <-p.running:
	default:
		return ErrStopped
	}

	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case p.jobs <- j:
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Started is closed when Run begins.
func (p *Pump) Started() <-chan struct{} {
	return p.running
}

// Done is closed when Run returns.
func (p *Pump) Done() <-chan struct{} {
	return p.stopped
}

func (p *Pump) drain() {
	for {
		cb, ok := p.src.PopCallback()
		if !ok {
			return
		}
		p.disp.Dispatch(cb)
	}
}
