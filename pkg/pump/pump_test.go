package pump

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gbxremote/gbxremote-go/pkg/transport"
	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

// fakeSource releases pushed callbacks into its queue on the next poll.
type fakeSource struct {
	mu       sync.Mutex
	incoming []xmlrpc.Callback
	queue    []xmlrpc.Callback
	err      error
	polls    int
}

func (f *fakeSource) push(methods ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range methods {
		f.incoming = append(f.incoming, xmlrpc.Callback{Method: m})
	}
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) PollCallbacks(time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	f.queue = append(f.queue, f.incoming...)
	f.incoming = nil
	return len(f.queue) > 0, f.err
}

func (f *fakeSource) PopCallback() (xmlrpc.Callback, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return xmlrpc.Callback{}, false
	}
	cb := f.queue[0]
	f.queue = f.queue[1:]
	return cb, true
}

// enqueue appends directly, as a query that read callbacks would.
func (f *fakeSource) enqueue(method string) {
	f.mu.Lock()
	f.queue = append(f.queue, xmlrpc.Callback{Method: method})
	f.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	methods []string
}

func (r *recorder) handle(cb xmlrpc.Callback) {
	r.mu.Lock()
	r.methods = append(r.methods, cb.Method)
	r.mu.Unlock()
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.methods...)
}

func startPump(t *testing.T, src Source, disp *Dispatcher) (*Pump, chan error) {
	t.Helper()
	p := New(src, disp, Config{Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-p.Done()
	})
	select {
	case <-p.Started():
	case <-time.After(time.Second):
		t.Fatal("pump did not start")
	}
	return p, errCh
}

func TestPumpDispatchesInOrder(t *testing.T) {
	src := &fakeSource{}
	rec := &recorder{}
	disp := NewDispatcher(nil)
	disp.SetFallback(rec.handle)

	startPump(t, src, disp)
	src.push("A", "B", "C")

	require.Eventually(t, func() bool { return len(rec.got()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"A", "B", "C"}, rec.got())
}

func TestPumpDoRunsOnPumpAndDrains(t *testing.T) {
	src := &fakeSource{}
	rec := &recorder{}
	disp := NewDispatcher(nil)
	disp.SetFallback(rec.handle)

	p, _ := startPump(t, src, disp)

	err := p.Do(context.Background(), func() error {
		src.enqueue("during-query")
		// handlers never run inside the job
		assert.Empty(t, rec.got())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"during-query"}, rec.got())

	want := errors.New("fault")
	assert.Same(t, want, p.Do(context.Background(), func() error { return want }))
}

func TestPumpStopsOnSourceError(t *testing.T) {
	src := &fakeSource{}
	rec := &recorder{}
	disp := NewDispatcher(nil)
	disp.SetFallback(rec.handle)

	p, errCh := startPump(t, src, disp)

	fatal := &transport.ConnectionError{Op: "read frame", Err: transport.ErrConnectionClosed}
	src.push("last")
	src.fail(fatal)

	select {
	case err := <-errCh:
		assert.Same(t, fatal, err)
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
	assert.Equal(t, []string{"last"}, rec.got())
	assert.ErrorIs(t, p.Do(context.Background(), func() error { return nil }), ErrStopped)
}

func TestPumpRunCancel(t *testing.T) {
	p := New(&fakeSource{}, NewDispatcher(nil), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Run(ctx), context.Canceled)
}

func TestDoBeforeRun(t *testing.T) {
	p := New(&fakeSource{}, NewDispatcher(nil), Config{})
	assert.ErrorIs(t, p.Do(context.Background(), func() error { return nil }), ErrStopped)
}

func TestDoContextCanceled(t *testing.T) {
	src := &fakeSource{}
	p, _ := startPump(t, src, NewDispatcher(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	release := make(chan struct{})
	defer close(release)

	err := p.Do(ctx, func() error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) PollCallbacks(timeout time.Duration) (bool, error) {
	args := m.Called(timeout)
	return args.Bool(0), args.Error(1)
}

func (m *mockSource) PopCallback() (xmlrpc.Callback, bool) {
	args := m.Called()
	return args.Get(0).(xmlrpc.Callback), args.Bool(1)
}

func TestPollUsesConfiguredTimeout(t *testing.T) {
	src := &mockSource{}
	src.On("PollCallbacks", 30*time.Millisecond).Return(true, nil).Once()
	src.On("PopCallback").Return(xmlrpc.Callback{Method: "A"}, true).Once()
	src.On("PopCallback").Return(xmlrpc.Callback{}, false).Once()

	rec := &recorder{}
	disp := NewDispatcher(nil)
	disp.On("A", rec.handle)

	p := New(src, disp, Config{PollTimeout: 30 * time.Millisecond})
	require.NoError(t, p.Poll())

	assert.Equal(t, []string{"A"}, rec.got())
	src.AssertExpectations(t)
}

func TestConfigDefaults(t *testing.T) {
	p := New(&fakeSource{}, NewDispatcher(nil), Config{})
	assert.Equal(t, DefaultInterval, p.config.Interval)
	assert.Equal(t, DefaultPollTimeout, p.config.PollTimeout)
	assert.NotNil(t, p.config.Logger)
}
