package pump

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

// Handler processes one callback.
type Handler func(cb xmlrpc.Callback)

// Dispatcher routes callbacks to handlers by method name. Handlers for a
// method run in registration order; callbacks no handler claims go to the
// fallback.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	fallback Handler
	logger   *zap.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// On registers h for method.
func (d *Dispatcher) On(method string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = append(d.handlers[method], h)
}

// Off removes every handler for method.
func (d *Dispatcher) Off(method string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, method)
}

// SetFallback sets the handler for callbacks without a registered handler.
func (d *Dispatcher) SetFallback(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = h
}

// Methods returns the number of methods with handlers.
func (d *Dispatcher) Methods() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Dispatch runs the handlers for cb and reports whether any ran. A
// panicking handler is logged and does not stop the others.
func (d *Dispatcher) Dispatch(cb xmlrpc.Callback) bool {
	d.mu.RLock()
	hs := d.handlers[cb.Method]
	fallback := d.fallback
	d.mu.RUnlock()

	if len(hs) == 0 {
		if fallback == nil {
			d.logger.Debug("unhandled callback", zap.String("method", cb.Method))
			return false
		}
		hs = []Handler{fallback}
	}

	for _, h := range hs {
		d.run(h, cb)
	}
	return true
}

func (d *Dispatcher) run(h Handler, cb xmlrpc.Callback) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("callback handler panicked",
				zap.String("method", cb.Method),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	h(cb)
}
