package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gbxremote/gbxremote-go/pkg/log"
)

// testContext returns a context canceled when the test finishes
// (equivalent of testing.T.Context, which needs Go 1.24).
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// capturingLogger captures log events for testing.
type capturingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *capturingLogger) Log(event log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *capturingLogger) Frames() []log.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []log.Event
	for _, e := range l.events {
		if e.Frame != nil {
			out = append(out, e)
		}
	}
	return out
}

// trickleConn returns at most one byte per Read.
type trickleConn struct {
	net.Conn
}

func (c trickleConn) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return c.Conn.Read(p)
}

// stallConn reports zero bytes without an error.
type stallConn struct {
	net.Conn
}

func (stallConn) Read([]byte) (int, error) { return 0, nil }

func testConfig() Config {
	return Config{
		HandshakeTimeout: time.Second,
		HeaderTimeout:    time.Second,
		ChunkTimeout:     time.Second,
	}
}

// pipe returns a client Conn and the raw server end of an in-memory stream.
func pipe(t *testing.T, cfg Config, wrap func(net.Conn) net.Conn) (*Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	if wrap != nil {
		client = wrap(client)
	}
	c := NewConn(client, cfg)
	t.Cleanup(func() {
		c.Close()
		server.Close()
	})
	return c, server
}

// serve writes chunks to w from a goroutine.
func serve(w net.Conn, chunks ...[]byte) {
	go func() {
		for _, b := range chunks {
			if _, err := w.Write(b); err != nil {
				return
			}
		}
	}()
}

func frameBytes(handle uint32, payload string) []byte {
	hdr := EncodeHeader(Header{Size: uint32(len(payload)), Handle: handle})
	return append(hdr[:], payload...)
}
