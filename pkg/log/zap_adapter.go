package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter mirrors protocol events into a zap logger.
// Frames and decoded messages go out at debug level, state changes at info
// and errors at warn (error when fatal).
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapAdapter creates an adapter that writes to logger.
// A nil logger yields a no-op adapter.
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAdapter{logger: logger.Named("protocol")}
}

// Log writes the event as a structured log entry.
func (a *ZapAdapter) Log(event Event) {
	fields := []zap.Field{
		zap.String("conn", event.ConnectionID),
		zap.Stringer("dir", event.Direction),
		zap.Stringer("layer", event.Layer),
	}
	if event.RemoteAddr != "" {
		fields = append(fields, zap.String("remote", event.RemoteAddr))
	}

	switch {
	case event.Frame != nil:
		fields = append(fields,
			zap.Int("size", event.Frame.Size),
			zap.Uint32("handle", event.Frame.Handle),
		)
		if event.Frame.Truncated {
			fields = append(fields, zap.Bool("truncated", true))
		}
		a.logger.Debug("frame", fields...)

	case event.Message != nil:
		m := event.Message
		fields = append(fields,
			zap.Stringer("type", m.Type),
			zap.Uint32("handle", m.Handle),
		)
		if m.Method != "" {
			fields = append(fields, zap.String("method", m.Method))
		}
		if m.FaultCode != nil {
			fields = append(fields, zap.Int("fault_code", *m.FaultCode), zap.String("fault", m.FaultString))
		}
		if m.Duration != nil {
			fields = append(fields, zap.Duration("rtt", *m.Duration))
		}
		a.logger.Debug("message", fields...)

	case event.StateChange != nil:
		s := event.StateChange
		fields = append(fields,
			zap.Stringer("entity", s.Entity),
			zap.String("from", s.OldState),
			zap.String("to", s.NewState),
		)
		if s.Reason != "" {
			fields = append(fields, zap.String("reason", s.Reason))
		}
		a.logger.Info("state change", fields...)

	case event.Error != nil:
		e := event.Error
		fields = append(fields, zap.String("error", e.Message))
		if e.Context != "" {
			fields = append(fields, zap.String("op", e.Context))
		}
		if e.Code != nil {
			fields = append(fields, zap.Int("code", *e.Code))
		}
		level := zapcore.WarnLevel
		if e.Fatal {
			level = zapcore.ErrorLevel
		}
		a.logger.Log(level, "protocol error", fields...)

	default:
		a.logger.Debug("event", fields...)
	}
}

var _ Logger = (*ZapAdapter)(nil)
