package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix marks capture files written as a zstd stream.
const CompressedSuffix = ".zst"

// FileLogger writes protocol events to a file in CBOR format.
// Paths ending in CompressedSuffix are written as a zstd stream.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	file    *os.File
	zw      *zstd.Encoder
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// NewFileLogger creates a new FileLogger that writes to the specified path.
// If the file exists, new events are appended. The file is created with
// permissions 0644 if it doesn't exist.
//
// Appending to a compressed file starts a new zstd frame; the reader
// decodes concatenated frames as one stream.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	l := &FileLogger{file: f}
	var w io.Writer = f
	if IsCompressed(path) {
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			f.Close()
			return nil, err
		}
		l.zw = zw
		w = zw
	}
	l.encoder = NewEncoder(w)
	return l, nil
}

// IsCompressed reports whether path names a zstd capture file.
func IsCompressed(path string) bool {
	return strings.HasSuffix(path, CompressedSuffix)
}

// Log writes an event to the log file.
// This method is safe for concurrent use.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	// Ignore encoding errors - logging should not disrupt the application
	_ = l.encoder.Encode(event)
	if l.zw != nil {
		// Flush per event so a crash loses at most the current block.
		_ = l.zw.Flush()
	}
}

// Close closes the log file.
// It is safe to call Close multiple times.
// After Close is called, subsequent Log calls are silently ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	if l.zw != nil {
		if err := l.zw.Close(); err != nil {
			l.file.Close()
			return err
		}
	}
	return l.file.Close()
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
