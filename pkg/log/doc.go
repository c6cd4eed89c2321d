// Package log provides structured protocol capture for GBXRemote connections.
//
// This package defines the Logger interface and Event types for recording
// protocol-level events at three layers (transport, rpc, client). It is
// separate from operational logging (zap): protocol capture is a complete,
// machine-readable trace of every frame and decoded message, intended for
// post-mortem analysis of a server session.
//
// # Basic Usage
//
//	// For development: print events through the operational logger
//	cfg.Transport.Logger = log.NewZapAdapter(logger)
//
//	// For production: append to a binary file (zstd-compressed if the
//	// path ends in .zst)
//	cfg.Transport.Logger, _ = log.NewFileLogger("/var/log/gbx/session.glog.zst")
//
//	// Both at once
//	cfg.Transport.Logger = log.NewMultiLogger(zapAdapter, fileLogger)
//
// # Event Types
//
//   - Transport: raw frames with their handle (FrameEvent)
//   - RPC: decoded calls, responses, faults and callbacks (MessageEvent)
//   - Client: state machine transitions (StateChangeEvent)
//
// Errors at any layer have a dedicated ErrorEventData payload.
//
// # File Format
//
// Log files are a plain sequence of CBOR-encoded events (.glog). The
// gbx-log CLI tool provides viewing, filtering, statistics and export.
package log
