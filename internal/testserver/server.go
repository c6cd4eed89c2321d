// Package testserver provides a scripted GBXRemote 2 server for tests.
package testserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gbxremote/gbxremote-go/pkg/log"
	"github.com/gbxremote/gbxremote-go/pkg/transport"
	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

// Request is a methodCall received from a client.
type Request struct {
	Method string
	Params []xmlrpc.Value
	Handle uint32
	Conn   *ServerConn
}

// Reply is a handler's answer to a Request.
type Reply struct {
	// Value is the result. Ignored when Fault or Raw is set.
	Value xmlrpc.Value

	// Fault replies with a fault instead of a value.
	Fault *xmlrpc.Fault

	// Raw replaces the rendered payload.
	Raw []byte

	// Handle replaces the request handle on the reply frame.
	Handle uint32

	// Before holds callbacks pushed ahead of the reply.
	Before []xmlrpc.Call

	// NoReply suppresses the reply frame.
	NoReply bool

	// Close closes the connection instead of replying.
	Close bool
}

// Handler answers a request.
type Handler func(Request) Reply

// Value returns a handler that always replies with v.
func Value(v xmlrpc.Value) Handler {
	return func(Request) Reply { return Reply{Value: v} }
}

// FaultWith returns a handler that always replies with a fault.
func FaultWith(code int, message string) Handler {
	return func(Request) Reply { return Reply{Fault: &xmlrpc.Fault{Code: code, Message: message}} }
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on. Defaults to "127.0.0.1:0".
	Address string

	// Greeting is sent after accept. Defaults to "GBXRemote 2".
	Greeting string

	// Codec renders replies and callbacks. Defaults to xmlrpc.NewCodec().
	Codec *xmlrpc.Codec

	// Logger for protocol logging (optional).
	Logger log.Logger

	// OnConnect is called when a client is accepted.
	OnConnect func(conn *ServerConn)

	// OnError is called when a connection fails.
	OnError func(conn *ServerConn, err error)
}

// Server is a fake dedicated server that answers calls from registered
// handlers. Unknown methods get the fault a real server returns.
type Server struct {
	config   ServerConfig
	builder  *xmlrpc.Builder
	parser   *xmlrpc.Parser
	listener net.Listener

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	callsMu sync.Mutex
	calls   []Request

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server. Register handlers before clients connect.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = "127.0.0.1:0"
	}
	if config.Greeting == "" {
		config.Greeting = transport.ProtocolName
	}
	if config.Codec == nil {
		config.Codec = xmlrpc.NewCodec()
	}
	return &Server{
		config:   config,
		builder:  xmlrpc.NewBuilder(config.Codec),
		parser:   xmlrpc.NewParser(config.Codec, nil),
		handlers: make(map[string]Handler),
		conns:    make(map[*ServerConn]struct{}),
	}
}

// Handle registers h for method.
func (s *Server) Handle(method string, h Handler) {
	s.handlersMu.Lock()
	s.handlers[method] = h
	s.handlersMu.Unlock()
}

// Start starts listening and accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and all connections.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ConnectionCount returns the number of connected clients.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Calls returns every request received so far, multicall entries
// included, in arrival order.
func (s *Server) Calls() []Request {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	return append([]Request(nil), s.calls...)
}

// Broadcast pushes a callback to every connected client.
func (s *Server) Broadcast(method string, params ...xmlrpc.Value) error {
	s.connsMu.RLock()
	conns := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.RUnlock()

	var errs []error
	for _, c := range conns {
		if err := c.Push(method, params...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() && s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept error: %w", err))
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(nc)
	}
}

func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()

	conn := transport.NewConn(nc, transport.Config{
		HeaderTimeout: time.Hour,
		ChunkTimeout:  time.Second,
		Logger:        s.config.Logger,
	})
	sconn := &ServerConn{
		framer:  transport.NewFramerWithLimits(conn, transport.MaxRequestSize, transport.MaxResponseSize),
		server:  s,
		closeCh: make(chan struct{}),
	}

	if err := conn.WriteAll(transport.EncodeHandshake(s.config.Greeting)); err != nil {
		conn.Close()
		s.reportError(sconn, err)
		return
	}

	s.connsMu.Lock()
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	sconn.readLoop()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()
}

func (s *Server) reportError(c *ServerConn, err error) {
	if s.config.OnError == nil || !s.running.Load() {
		return
	}
	select {
	case <-c.closeCh:
	default:
		s.config.OnError(c, err)
	}
}

func (s *Server) record(r Request) {
	s.callsMu.Lock()
	s.calls = append(s.calls, r)
	s.callsMu.Unlock()
}

func (s *Server) dispatch(r Request) Reply {
	s.record(r)

	if r.Method == xmlrpc.MulticallMethod {
		return s.multicall(r)
	}

	s.handlersMu.RLock()
	h, ok := s.handlers[r.Method]
	s.handlersMu.RUnlock()
	if !ok {
		return Reply{Fault: &xmlrpc.Fault{Code: -32601, Message: "Method not found"}}
	}
	return h(r)
}

func (s *Server) multicall(r Request) Reply {
	if len(r.Params) != 1 {
		return Reply{Fault: &xmlrpc.Fault{Code: -32602, Message: "system.multicall expects one array"}}
	}
	entries, _ := r.Params[0].AsArray()

	var before []xmlrpc.Call
	results := make([]xmlrpc.Result, len(entries))
	for i, e := range entries {
		method, _ := e.Field("methodName").AsText()
		params, _ := e.Field("params").AsArray()
		rep := s.dispatch(Request{Method: method, Params: params, Handle: r.Handle, Conn: r.Conn})
		before = append(before, rep.Before...)
		if rep.Fault != nil {
			results[i].Fault = rep.Fault
		} else {
			results[i].Value = rep.Value
		}
	}

	raw, err := s.builder.BuildMulticallResponse(results)
	if err != nil {
		return Reply{Fault: &xmlrpc.Fault{Code: -32603, Message: err.Error()}}
	}
	return Reply{Raw: raw, Before: before}
}

// ServerConn is one client connection.
type ServerConn struct {
	framer    *transport.Framer
	server    *Server
	closeCh   chan struct{}
	closeOnce sync.Once

	writeMu  sync.Mutex
	nextPush uint32
}

// ConnID returns the connection identifier.
func (c *ServerConn) ConnID() string {
	return c.framer.ConnID()
}

// Push sends a callback. Callback handles never carry the client bit.
func (c *ServerConn) Push(method string, params ...xmlrpc.Value) error {
	payload, err := c.server.builder.BuildCall(method, params)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.nextPush++
	if c.nextPush&transport.ClientHandleBit != 0 {
		c.nextPush = 1
	}
	return c.framer.WriteFrame(c.nextPush, payload)
}

// SendFrame writes a raw frame.
func (c *ServerConn) SendFrame(handle uint32, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteFrame(handle, payload)
}

// SendRaw writes raw bytes with no framing.
func (c *ServerConn) SendRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteAll(b)
}

// Close closes the connection.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.framer.Close()
	})
	return err
}

func (c *ServerConn) readLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case <-c.server.ctx.Done():
			return
		default:
		}

		frame, err := c.framer.ReadFrame()
		if err != nil {
			c.server.reportError(c, err)
			c.Close()
			return
		}

		call, err := c.server.parser.ParseCallback(frame.Payload)
		if err != nil {
			c.server.reportError(c, err)
			c.Close()
			return
		}

		rep := c.server.dispatch(Request{Method: call.Method, Params: call.Params, Handle: frame.Handle, Conn: c})
		if err := c.reply(frame.Handle, rep); err != nil {
			c.server.reportError(c, err)
			c.Close()
			return
		}
	}
}

func (c *ServerConn) reply(handle uint32, rep Reply) error {
	for _, cb := range rep.Before {
		if err := c.Push(cb.Method, cb.Params...); err != nil {
			return err
		}
	}
	if rep.Close {
		return c.Close()
	}
	if rep.NoReply {
		return nil
	}

	payload := rep.Raw
	if payload == nil {
		var err error
		if rep.Fault != nil {
			payload, err = c.server.builder.BuildFault(rep.Fault)
		} else {
			payload, err = c.server.builder.BuildResponse(rep.Value)
		}
		if err != nil {
			return err
		}
	}

	if rep.Handle != 0 {
		handle = rep.Handle
	}
	return c.SendFrame(handle, payload)
}
