// Package observability builds the operational logger and the protocol
// capture sink from configuration.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gbxremote/gbxremote-go/internal/config"
	"github.com/gbxremote/gbxremote-go/pkg/log"
)

// NewLogger creates a structured logger from the given logging configuration.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// ProtocolSink is the protocol capture destination plus its cleanup.
type ProtocolSink struct {
	log.Logger
	file *log.FileLogger
}

// Close flushes and closes the capture file, if any.
func (s *ProtocolSink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// NewProtocolSink returns the protocol capture logger for cfg. Events go to
// cfg.ProtocolLog when set; at debug level they are also mirrored into
// logger. Without either destination the sink discards events.
func NewProtocolSink(cfg config.LoggingConfig, logger *zap.Logger) (*ProtocolSink, error) {
	var sinks []log.Logger
	sink := &ProtocolSink{}

	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, fmt.Errorf("opening protocol log %q: %w", cfg.ProtocolLog, err)
		}
		sink.file = fl
		sinks = append(sinks, fl)
	}

	if logger != nil && logger.Core().Enabled(zapcore.DebugLevel) {
		sinks = append(sinks, log.NewZapAdapter(logger))
	}

	switch len(sinks) {
	case 0:
		sink.Logger = log.NoopLogger{}
	case 1:
		sink.Logger = sinks[0]
	default:
		sink.Logger = log.NewMultiLogger(sinks...)
	}
	return sink, nil
}
