package gbxremote_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gbxremote/gbxremote-go/internal/config"
	"github.com/gbxremote/gbxremote-go/internal/testserver"
	"github.com/gbxremote/gbxremote-go/pkg/callback"
	"github.com/gbxremote/gbxremote-go/pkg/client"
	"github.com/gbxremote/gbxremote-go/pkg/connection"
	"github.com/gbxremote/gbxremote-go/pkg/log"
	"github.com/gbxremote/gbxremote-go/pkg/pump"
	"github.com/gbxremote/gbxremote-go/pkg/transport"
	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

const (
	testLogin    = "SuperAdmin"
	testPassword = "SuperAdmin"
)

// newDedicatedServer starts a fake server that accepts the test
// credentials and answers the common read-only methods.
func newDedicatedServer(t *testing.T) *testserver.Server {
	t.Helper()

	srv := testserver.NewServer(testserver.ServerConfig{})
	srv.Handle("Authenticate", func(r testserver.Request) testserver.Reply {
		if len(r.Params) != 2 {
			return testserver.Reply{Fault: &xmlrpc.Fault{Code: -1000, Message: "Wrong parameters."}}
		}
		login, _ := r.Params[0].AsText()
		password, _ := r.Params[1].AsText()
		if login != testLogin || password != testPassword {
			return testserver.Reply{Fault: &xmlrpc.Fault{Code: -1000, Message: "Permission denied."}}
		}
		return testserver.Reply{Value: xmlrpc.Bool(true)}
	})
	srv.Handle("EnableCallbacks", testserver.Value(xmlrpc.Bool(true)))
	srv.Handle("GetVersion", testserver.Value(xmlrpc.StructOf(
		"Name", xmlrpc.String("TmForever"),
		"Version", xmlrpc.String("2.11.26"),
		"Build", xmlrpc.String("2011-02-21_18_00"),
	)))
	srv.Handle("GetStatus", testserver.Value(xmlrpc.StructOf(
		"Code", xmlrpc.Int(4),
		"Name", xmlrpc.String("Running - Play"),
	)))
	srv.Handle("StopServer", func(testserver.Request) testserver.Reply {
		return testserver.Reply{Close: true}
	})

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func dialAuthenticated(addr string, cfg client.Config, opts ...client.Option) connection.DialFunc {
	return func(ctx context.Context) (*client.Client, error) {
		c, err := client.Dial(ctx, addr, cfg, opts...)
		if err != nil {
			return nil, err
		}
		if err := c.Authenticate(testLogin, testPassword); err != nil {
			c.Close()
			return nil, err
		}
		if err := c.EnableCallbacks(true); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	}
}

func testClientConfig() client.Config {
	cfg := client.DefaultConfig()
	cfg.Transport.HeaderTimeout = 2 * time.Second
	return cfg
}

// TestE2E_SessionWithCallbacks runs a supervised session: dial,
// authenticate, pump callbacks to named handlers and query through the pump.
func TestE2E_SessionWithCallbacks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := newDedicatedServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chats := make(chan xmlrpc.Callback, 4)
	disp := pump.NewDispatcher(nil)
	disp.On("TrackMania.PlayerChat", func(cb xmlrpc.Callback) { chats <- cb })

	pumps := make(chan *pump.Pump, 1)
	mgr := connection.NewManager(dialAuthenticated(srv.Addr(), testClientConfig()))

	runErr := make(chan error, 1)
	go func() {
		runErr <- mgr.Run(ctx, func(ctx context.Context, c *client.Client) error {
			p := pump.New(c, disp, pump.Config{Interval: 5 * time.Millisecond})
			pumps <- p
			return p.Run(ctx)
		})
	}()

	var p *pump.Pump
	select {
	case p = <-pumps:
	case <-ctx.Done():
		t.Fatal("Session did not start")
	}
	<-p.Started()

	if err := srv.Broadcast("TrackMania.PlayerChat", xmlrpc.Int(236), xmlrpc.String("yuha.tmf"), xmlrpc.String("gg")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	select {
	case cb := <-chats:
		login, _ := cb.Arg("Login").AsText()
		message, _ := cb.Arg("message").AsText()
		if login != "yuha.tmf" || message != "gg" {
			t.Errorf("Unexpected chat args: %s", cb.Args)
		}
		if id, _ := cb.Arg("chatType").AsInt(); id != 236 {
			t.Errorf("Expected chatType 236, got %d", id)
		}
	case <-ctx.Done():
		t.Fatal("PlayerChat callback not dispatched")
	}

	var version client.Version
	err := p.Do(ctx, func() error {
		var err error
		version, err = mgr.Client().GetVersion()
		return err
	})
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if version.Name != "TmForever" {
		t.Errorf("Expected TmForever, got %q", version.Name)
	}

	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if mgr.State() != connection.StateClosed {
		t.Errorf("Expected closed manager, got %s", mgr.State())
	}
}

// TestE2E_Reconnection verifies that a dropped connection is redialed and
// the new session is authenticated again.
func TestE2E_Reconnection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := newDedicatedServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var connected atomic.Int32
	var reconnecting atomic.Int32
	pumps := make(chan *pump.Pump, 2)

	mgr := connection.NewManager(dialAuthenticated(srv.Addr(), testClientConfig()),
		connection.WithBackoff(connection.BackoffConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}),
	)
	mgr.OnConnected(func(*client.Client) { connected.Add(1) })
	mgr.OnReconnecting(func(attempt int, delay time.Duration, cause error) {
		reconnecting.Add(1)
		if !transport.IsFatal(cause) {
			t.Errorf("Reconnect with non-fatal cause: %v", cause)
		}
	})

	runErr := make(chan error, 1)
	go func() {
		runErr <- mgr.Run(ctx, func(ctx context.Context, c *client.Client) error {
			p := pump.New(c, pump.NewDispatcher(nil), pump.Config{Interval: 5 * time.Millisecond})
			pumps <- p
			return p.Run(ctx)
		})
	}()

	first := <-pumps
	<-first.Started()

	// The server drops the connection instead of answering.
	err := first.Do(ctx, func() error {
		_, err := mgr.Client().Query("StopServer")
		return err
	})
	var connErr *transport.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnectionError, got %v", err)
	}

	var second *pump.Pump
	select {
	case second = <-pumps:
	case <-ctx.Done():
		t.Fatal("Manager did not reconnect")
	}
	<-second.Started()

	err = second.Do(ctx, func() error {
		status, err := mgr.Client().GetStatus()
		if err == nil && !status.Playing() {
			t.Errorf("Expected playing status, got %+v", status)
		}
		return err
	})
	if err != nil {
		t.Fatalf("GetStatus after reconnect failed: %v", err)
	}

	if got := connected.Load(); got != 2 {
		t.Errorf("Expected 2 connections, got %d", got)
	}
	if got := reconnecting.Load(); got != 1 {
		t.Errorf("Expected 1 reconnect, got %d", got)
	}

	auths := 0
	for _, r := range srv.Calls() {
		if r.Method == "Authenticate" {
			auths++
		}
	}
	if auths != 2 {
		t.Errorf("Expected 2 Authenticate calls, got %d", auths)
	}

	cancel()
	<-runErr
}

// TestE2E_BadCredentialsNotRetried verifies that an authentication fault
// ends supervision instead of looping.
func TestE2E_BadCredentialsNotRetried(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := newDedicatedServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dial := func(ctx context.Context) (*client.Client, error) {
		c, err := client.Dial(ctx, srv.Addr(), testClientConfig())
		if err != nil {
			return nil, err
		}
		if err := c.Authenticate(testLogin, "wrong"); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	}

	mgr := connection.NewManager(dial)
	err := mgr.Run(ctx, func(context.Context, *client.Client) error {
		t.Error("Session must not start with bad credentials")
		return nil
	})

	var fault *xmlrpc.Fault
	if !errors.As(err, &fault) {
		t.Fatalf("Expected fault, got %v", err)
	}
	if fault.Message != "Permission denied." {
		t.Errorf("Unexpected fault: %v", fault)
	}
	if mgr.BackoffAttempts() != 0 {
		t.Errorf("Expected no retries, got %d", mgr.BackoffAttempts())
	}
}

// TestE2E_ProtocolCapture records a session to a compressed capture file
// and reads it back.
func TestE2E_ProtocolCapture(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := newDedicatedServer(t)
	path := filepath.Join(t.TempDir(), "session.glog"+log.CompressedSuffix)

	fl, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("Failed to create capture: %v", err)
	}

	cfg := testClientConfig()
	cfg.Transport.Logger = fl

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := dialAuthenticated(srv.Addr(), cfg)(ctx)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if _, err := c.GetVersion(); err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	c.Close()
	if err := fl.Close(); err != nil {
		t.Fatalf("Failed to close capture: %v", err)
	}

	reader, err := log.NewFilteredReader(path, log.Filter{Method: "GetVersion"})
	if err != nil {
		t.Fatalf("Failed to open capture: %v", err)
	}
	defer reader.Close()

	var types []log.MessageType
	var handle uint32
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Failed to read event: %v", err)
		}
		types = append(types, event.Message.Type)
		handle = event.Message.Handle
		if event.RemoteAddr != srv.Addr() {
			t.Errorf("Expected remote %s, got %s", srv.Addr(), event.RemoteAddr)
		}
	}

	if len(types) != 2 || types[0] != log.MessageTypeCall || types[1] != log.MessageTypeResponse {
		t.Fatalf("Expected CALL then RESPONSE, got %v", types)
	}

	// Authenticate and EnableCallbacks come first.
	if handle != 0x80000003 {
		t.Errorf("Expected handle 0x80000003, got %#x", handle)
	}

	frames, err := log.NewFilteredReader(path, log.Filter{Handle: &handle})
	if err != nil {
		t.Fatalf("Failed to reopen capture: %v", err)
	}
	defer frames.Close()

	var frameCount int
	for {
		event, err := frames.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Failed to read event: %v", err)
		}
		if event.Frame != nil {
			frameCount++
		}
	}
	if frameCount != 2 {
		t.Errorf("Expected request and reply frames, got %d", frameCount)
	}
}

// TestE2E_ConfigDrivenDial loads configuration from the environment and
// uses it to connect and learn an unknown callback.
func TestE2E_ConfigDrivenDial(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := newDedicatedServer(t)

	t.Setenv("GBX_SERVER_ADDRESS", srv.Addr())
	t.Setenv("GBX_AUTH_PASSWORD", testPassword)
	t.Setenv("GBX_CODEC_BASE64_STRINGS", "false")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	var mu sync.Mutex
	var learned []callback.Discovery
	ccfg := cfg.ClientConfig()
	ccfg.OnLearn = func(d callback.Discovery) {
		mu.Lock()
		learned = append(learned, d)
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, cfg.Server.Address, ccfg)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	if err := c.Authenticate(cfg.Auth.Login, cfg.Auth.Password); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if err := srv.Broadcast("TrackMania.BillUpdated", xmlrpc.Int(7), xmlrpc.Int(4), xmlrpc.String("paid!")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var cb xmlrpc.Callback
	for {
		if _, err := c.PollCallbacks(50 * time.Millisecond); err != nil {
			t.Fatalf("PollCallbacks failed: %v", err)
		}
		var ok bool
		if cb, ok = c.PopCallback(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Callback not received")
		}
	}

	if cb.Method != "TrackMania.BillUpdated" {
		t.Fatalf("Unexpected callback %s", cb.Method)
	}
	if state, _ := cb.Arg("param2").AsText(); state != "paid!" {
		t.Errorf("Expected placeholder param2=paid!, got %s", cb.Args)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(learned) != 3 {
		t.Errorf("Expected 3 learned positions, got %d", len(learned))
	}
}
