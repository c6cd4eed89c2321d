package client

import (
	"sync"
	"time"

	"github.com/gbxremote/gbxremote-go/pkg/log"
	"github.com/gbxremote/gbxremote-go/pkg/transport"
	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

// scriptConn is an in-memory Transport. Frames written by the client are
// recorded and passed to respond, whose frames become readable.
type scriptConn struct {
	handshakeErr error
	writeErr     error
	readErr      error
	respond      func(out transport.Frame) []transport.Frame

	inbound []transport.Frame
	writes  []transport.Frame
	closed  int
}

func (s *scriptConn) Handshake() error { return s.handshakeErr }

func (s *scriptConn) ReadFrame() (transport.Frame, error) {
	if len(s.inbound) == 0 {
		if s.readErr != nil {
			return transport.Frame{}, s.readErr
		}
		return transport.Frame{}, &transport.ConnectionError{Op: "read frame", Err: transport.ErrConnectionClosed}
	}
	f := s.inbound[0]
	s.inbound = s.inbound[1:]
	return f, nil
}

func (s *scriptConn) WriteFrame(handle uint32, payload []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	out := transport.Frame{Handle: handle, Payload: payload}
	s.writes = append(s.writes, out)
	if s.respond != nil {
		s.inbound = append(s.inbound, s.respond(out)...)
	}
	return nil
}

func (s *scriptConn) WaitReadable(time.Duration) (bool, error) {
	return len(s.inbound) > 0, nil
}

func (s *scriptConn) ConnID() string { return "test-conn" }

func (s *scriptConn) Close() error {
	s.closed++
	return nil
}

func (s *scriptConn) push(frames ...transport.Frame) {
	s.inbound = append(s.inbound, frames...)
}

var testBuilder = xmlrpc.NewBuilder(nil)

func responseFrame(handle uint32, v xmlrpc.Value) transport.Frame {
	payload, err := testBuilder.BuildResponse(v)
	if err != nil {
		panic(err)
	}
	return transport.Frame{Handle: handle, Payload: payload}
}

func faultFrame(handle uint32, code int, msg string) transport.Frame {
	payload, err := testBuilder.BuildFault(&xmlrpc.Fault{Code: code, Message: msg})
	if err != nil {
		panic(err)
	}
	return transport.Frame{Handle: handle, Payload: payload}
}

func callbackFrame(handle uint32, method string, params ...xmlrpc.Value) transport.Frame {
	payload, err := testBuilder.BuildCall(method, params)
	if err != nil {
		panic(err)
	}
	return transport.Frame{Handle: handle, Payload: payload}
}

// replyWith answers every request with v.
func replyWith(v xmlrpc.Value) func(transport.Frame) []transport.Frame {
	return func(out transport.Frame) []transport.Frame {
		return []transport.Frame{responseFrame(out.Handle, v)}
	}
}

// readyClient returns a handshaken client over conn.
func readyClient(conn Transport, opts ...Option) *Client {
	c := New(conn, opts...)
	if err := c.Handshake(); err != nil {
		panic(err)
	}
	return c
}

// capturingLogger records protocol events.
type capturingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *capturingLogger) Log(e log.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *capturingLogger) messages() []*log.MessageEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*log.MessageEvent
	for _, e := range l.events {
		if e.Message != nil {
			out = append(out, e.Message)
		}
	}
	return out
}

func (l *capturingLogger) states() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.StateChange != nil {
			out = append(out, e.StateChange.NewState)
		}
	}
	return out
}
