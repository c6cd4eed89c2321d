package log

// Logger receives protocol capture events. Log is called on the goroutine
// that drives the connection, so it must not block and must be safe for
// concurrent use when one Logger serves several connections.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards every event.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// LoggerFunc adapts a function to a Logger.
type LoggerFunc func(Event)

// Log calls f(event).
func (f LoggerFunc) Log(event Event) { f(event) }

// Enabled reports whether events sent to l go anywhere. Capture sites
// check it before building payloads.
func Enabled(l Logger) bool {
	switch v := l.(type) {
	case nil:
		return false
	case NoopLogger, *NoopLogger:
		return false
	case LoggerFunc:
		return v != nil
	case *MultiLogger:
		return v != nil && len(v.loggers) > 0
	}
	return true
}

// MultiLogger fans events out to several sinks in order, typically a
// capture file and the operational log.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger combines loggers. Entries that are not Enabled are
// dropped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if Enabled(l) {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log sends event to every sink.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Len returns the number of sinks.
func (m *MultiLogger) Len() int {
	return len(m.loggers)
}

var (
	_ Logger = NoopLogger{}
	_ Logger = LoggerFunc(nil)
	_ Logger = (*MultiLogger)(nil)
)
