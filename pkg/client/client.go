package client

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gbxremote/gbxremote-go/pkg/log"
	"github.com/gbxremote/gbxremote-go/pkg/transport"
	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

// Transport is the framed connection a Client drives.
type Transport interface {
	Handshake() error
	ReadFrame() (transport.Frame, error)
	WriteFrame(handle uint32, payload []byte) error
	WaitReadable(timeout time.Duration) (bool, error)
	ConnID() string
	Close() error
}

var _ Transport = (*transport.Framer)(nil)

// Client is a GBXRemote 2 RPC client. See the package documentation.
type Client struct {
	conn Transport

	codec   *xmlrpc.Codec
	namer   xmlrpc.ParamNamer
	builder *xmlrpc.Builder
	parser  *xmlrpc.Parser

	logger     *zap.Logger
	protoLog   log.Logger
	remoteAddr string
	limiter    *rate.Limiter

	state   State
	handle  uint32
	pending uint32
	queue   []xmlrpc.Callback
	fatal   error
}

// New creates a client over an established connection. The client starts
// Idle; call Handshake before issuing queries.
func New(conn Transport, opts ...Option) *Client {
	c := &Client{
		conn:   conn,
		logger: zap.NewNop(),
		handle: transport.ClientHandleBit,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.codec == nil {
		c.codec = xmlrpc.NewCodec()
	}
	if c.builder == nil {
		c.builder = xmlrpc.NewBuilder(c.codec)
	}
	if c.parser == nil {
		c.parser = xmlrpc.NewParser(c.codec, c.namer)
	}
	c.logger = c.logger.With(zap.String("conn", conn.ConnID()))
	return c
}

// State returns the current state.
func (c *Client) State() State {
	return c.state
}

// Err returns the stored fatal error, or nil.
func (c *Client) Err() error {
	return c.fatal
}

// ConnID returns the connection identifier.
func (c *Client) ConnID() string {
	return c.conn.ConnID()
}

// Handshake reads and checks the server greeting.
func (c *Client) Handshake() error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.state != StateIdle {
		return ErrAlreadyHandshaken
	}

	c.setState(StateHandshaking, "")
	if err := c.conn.Handshake(); err != nil {
		return c.fail("handshake", err)
	}
	c.setState(StateReady, "greeting accepted")
	return nil
}

// Query calls method with args and returns its result. Callbacks that
// arrive before the reply are queued. A fault reply is returned as a
// *xmlrpc.Fault and leaves the client ready.
func (c *Client) Query(method string, args ...xmlrpc.Value) (xmlrpc.Value, error) {
	payload, err := c.prepare(func() ([]byte, error) { return c.builder.BuildCall(method, args) })
	if err != nil {
		return xmlrpc.Value{}, err
	}

	var display any
	if log.Enabled(c.protoLog) {
		display = argsDisplay(args)
	}
	reply, rtt, err := c.roundTrip(log.MessageTypeCall, method, payload, display)
	if err != nil {
		return xmlrpc.Value{}, err
	}

	v, err := c.parser.ParseResponse(reply.Payload)
	if err != nil {
		if f, ok := xmlrpc.AsFault(err); ok {
			c.logFault(reply.Handle, method, f, rtt)
			return xmlrpc.Value{}, f
		}
		return xmlrpc.Value{}, c.fail("parse response", &transport.ProtocolError{Op: "parse response", Err: err})
	}

	if log.Enabled(c.protoLog) {
		c.logResponse(reply.Handle, method, v.Native(), rtt)
	}
	return v, nil
}

// Call converts args from Go values and calls method.
func (c *Client) Call(method string, args ...any) (xmlrpc.Value, error) {
	vals, err := xmlrpc.FromNatives(args...)
	if err != nil {
		return xmlrpc.Value{}, err
	}
	return c.Query(method, vals...)
}

// Multicall sends calls as one system.multicall and returns one result
// per call, in order. A fault of the whole multicall is returned as an
// error; faults of single entries are reported in their Result.
func (c *Client) Multicall(calls []xmlrpc.Call) ([]xmlrpc.Result, error) {
	payload, err := c.prepare(func() ([]byte, error) { return c.builder.BuildMulticall(calls) })
	if err != nil {
		return nil, err
	}

	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Method
	}

	reply, rtt, err := c.roundTrip(log.MessageTypeMulticall, xmlrpc.MulticallMethod, payload, names)
	if err != nil {
		return nil, err
	}

	results, err := c.parser.ParseMulticallResponse(reply.Payload)
	if err != nil {
		if f, ok := xmlrpc.AsFault(err); ok {
			c.logFault(reply.Handle, xmlrpc.MulticallMethod, f, rtt)
			return nil, f
		}
		return nil, c.fail("parse multicall", &transport.ProtocolError{Op: "parse multicall", Err: err})
	}

	c.logResponse(reply.Handle, xmlrpc.MulticallMethod, len(results), rtt)
	return results, nil
}

// PopCallback removes and returns the oldest queued callback.
func (c *Client) PopCallback() (xmlrpc.Callback, bool) {
	if len(c.queue) == 0 {
		return xmlrpc.Callback{}, false
	}
	cb := c.queue[0]
	c.queue[0] = xmlrpc.Callback{}
	c.queue = c.queue[1:]
	return cb, true
}

// DrainCallbacks removes and returns every queued callback in arrival
// order.
func (c *Client) DrainCallbacks() []xmlrpc.Callback {
	out := c.queue
	c.queue = nil
	return out
}

// Pending returns the number of queued callbacks.
func (c *Client) Pending() int {
	return len(c.queue)
}

// PollCallbacks waits up to timeout for inbound data and reads every
// frame that is available. It reports whether callbacks are queued
// afterwards. A frame carrying a client handle while no query is
// outstanding is a protocol error.
func (c *Client) PollCallbacks(timeout time.Duration) (bool, error) {
	if err := c.ready(); err != nil {
		return c.Pending() > 0, err
	}

	wait := timeout
	for {
		ok, err := c.conn.WaitReadable(wait)
		if err != nil {
			return c.Pending() > 0, c.fail("poll", err)
		}
		if !ok {
			break
		}

		frame, err := c.conn.ReadFrame()
		if err != nil {
			return c.Pending() > 0, c.fail("poll", err)
		}
		if !frame.IsCallback() {
			err := &transport.ProtocolError{
				Op:  "poll",
				Err: fmt.Errorf("%w: 0x%08x while idle", transport.ErrUnexpectedHandle, frame.Handle),
			}
			return c.Pending() > 0, c.fail("poll", err)
		}
		if err := c.enqueue(frame); err != nil {
			return c.Pending() > 0, err
		}
		wait = 0
	}
	return c.Pending() > 0, nil
}

// Close closes the connection. Queued callbacks stay available.
func (c *Client) Close() error {
	if c.state == StateClosed {
		return nil
	}
	wasFaulted := c.state == StateFaulted
	c.setState(StateClosed, "closed by caller")
	if wasFaulted {
		return nil
	}
	return c.conn.Close()
}

// nextHandle pre-increments the handle counter. Issued handles always
// carry the client bit and are never zero.
func (c *Client) nextHandle() uint32 {
	if c.handle == ^uint32(0) {
		c.handle = transport.ClientHandleBit
	}
	c.handle++
	return c.handle
}

func (c *Client) usable() error {
	if c.fatal != nil {
		return c.fatal
	}
	if c.state == StateClosed {
		return ErrClientClosed
	}
	return nil
}

func (c *Client) ready() error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.state != StateReady {
		return fmt.Errorf("%w: %s", ErrNotReady, c.state)
	}
	return nil
}

// prepare checks the state and builds the request. Build failures and
// oversized requests are local EncodingErrors and leave the client ready
// with no handle assigned.
func (c *Client) prepare(build func() ([]byte, error)) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	payload, err := build()
	if err != nil {
		return nil, err
	}
	if len(payload) > transport.MaxRequestSize {
		return nil, tooLarge(len(payload))
	}
	return payload, nil
}

func tooLarge(size int) error {
	return &xmlrpc.EncodingError{
		Op:  "build",
		Err: fmt.Errorf("%w: %d > %d", transport.ErrRequestTooLarge, size, transport.MaxRequestSize),
	}
}

// roundTrip writes payload under a fresh handle and reads frames until
// the reply arrives, queueing callbacks on the way.
func (c *Client) roundTrip(typ log.MessageType, method string, payload []byte, display any) (transport.Frame, time.Duration, error) {
	prev := c.handle
	h := c.nextHandle()
	if err := c.conn.WriteFrame(h, payload); err != nil {
		if errors.Is(err, transport.ErrRequestTooLarge) {
			c.handle = prev
			return transport.Frame{}, 0, tooLarge(len(payload))
		}
		return transport.Frame{}, 0, c.fail("write "+method, err)
	}
	start := time.Now()
	c.logMessage(log.DirectionOut, &log.MessageEvent{
		Type:    typ,
		Handle:  h,
		Method:  method,
		Payload: display,
	})

	c.pending = h
	c.setState(StateAwaitingResponse, method)

	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			return transport.Frame{}, 0, c.fail("read "+method, err)
		}

		switch {
		case frame.Handle == h:
			c.pending = 0
			c.setState(StateReady, "")
			return frame, time.Since(start), nil

		case frame.IsCallback():
			if err := c.enqueue(frame); err != nil {
				return transport.Frame{}, 0, err
			}

		default:
			err := &transport.ProtocolError{
				Op:  "read " + method,
				Err: fmt.Errorf("%w: got 0x%08x, want 0x%08x", transport.ErrUnexpectedHandle, frame.Handle, h),
			}
			return transport.Frame{}, 0, c.fail("read "+method, err)
		}
	}
}

func (c *Client) enqueue(frame transport.Frame) error {
	cb, err := c.parser.ParseCallback(frame.Payload)
	if err != nil {
		return c.fail("parse callback", &transport.ProtocolError{Op: "parse callback", Err: err})
	}
	cb.Handle = frame.Handle
	c.queue = append(c.queue, cb)

	if log.Enabled(c.protoLog) {
		c.logMessage(log.DirectionIn, &log.MessageEvent{
			Type:    log.MessageTypeCallback,
			Handle:  frame.Handle,
			Method:  cb.Method,
			Payload: cb.Args.Native(),
		})
	}
	c.logger.Debug("callback queued", zap.String("method", cb.Method), zap.Int("queued", len(c.queue)))
	return nil
}

// fail records a fatal error, closes the connection and moves the client
// to Faulted.
func (c *Client) fail(op string, err error) error {
	c.fatal = err
	c.pending = 0
	_ = c.conn.Close()
	c.setState(StateFaulted, err.Error())

	c.logger.Error("connection failed", zap.String("op", op), zap.Error(err))
	if log.Enabled(c.protoLog) {
		c.protoLog.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.conn.ConnID(),
			Direction:    log.DirectionIn,
			Layer:        log.LayerClient,
			Category:     log.CategoryError,
			RemoteAddr:   c.remoteAddr,
			Error: &log.ErrorEventData{
				Layer:   log.LayerClient,
				Message: err.Error(),
				Context: op,
				Fatal:   true,
			},
		})
	}
	return err
}

func (c *Client) setState(s State, reason string) {
	old := c.state
	c.state = s
	if old == s {
		return
	}

	c.logger.Debug("client state", zap.Stringer("from", old), zap.Stringer("to", s), zap.String("reason", reason))
	if log.Enabled(c.protoLog) {
		c.protoLog.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.conn.ConnID(),
			Layer:        log.LayerClient,
			Category:     log.CategoryState,
			RemoteAddr:   c.remoteAddr,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityClient,
				OldState: old.String(),
				NewState: s.String(),
				Reason:   reason,
			},
		})
	}
}

func (c *Client) logMessage(dir log.Direction, msg *log.MessageEvent) {
	if !log.Enabled(c.protoLog) {
		return
	}
	c.protoLog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.conn.ConnID(),
		Direction:    dir,
		Layer:        log.LayerRPC,
		Category:     log.CategoryMessage,
		RemoteAddr:   c.remoteAddr,
		Message:      msg,
	})
}

func (c *Client) logResponse(handle uint32, method string, payload any, rtt time.Duration) {
	c.logMessage(log.DirectionIn, &log.MessageEvent{
		Type:     log.MessageTypeResponse,
		Handle:   handle,
		Method:   method,
		Payload:  payload,
		Duration: &rtt,
	})
}

func (c *Client) logFault(handle uint32, method string, f *xmlrpc.Fault, rtt time.Duration) {
	code := f.Code
	c.logger.Debug("fault reply", zap.String("method", method), zap.Int("code", code), zap.String("fault", f.Message))
	c.logMessage(log.DirectionIn, &log.MessageEvent{
		Type:        log.MessageTypeFault,
		Handle:      handle,
		Method:      method,
		FaultCode:   &code,
		FaultString: f.Message,
		Duration:    &rtt,
	})
}

func argsDisplay(args []xmlrpc.Value) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Native()
	}
	return out
}
