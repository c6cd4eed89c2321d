package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/gbxremote/gbxremote-go/pkg/log"
)

// Framing constants.
const (
	// HeaderSize is the size of a frame header: size then handle, both
	// little-endian uint32.
	HeaderSize = 8

	// MaxRequestSize is the largest request payload a server accepts.
	MaxRequestSize = 512*1024 - HeaderSize

	// MaxResponseSize is the largest response or callback payload accepted.
	MaxResponseSize = 4096 * 1024

	// ClientHandleBit is set on every handle issued by a client. Frames
	// without it are server callbacks.
	ClientHandleBit uint32 = 0x80000000
)

// Header is a decoded frame header.
type Header struct {
	Size   uint32
	Handle uint32
}

// Frame is one message on the wire.
type Frame struct {
	Handle  uint32
	Payload []byte
}

// IsCallback reports whether the frame was pushed by the server.
func (f Frame) IsCallback() bool {
	return !IsClientHandle(f.Handle)
}

// IsClientHandle reports whether handle belongs to the client handle space.
func IsClientHandle(handle uint32) bool {
	return handle&ClientHandleBit != 0
}

// EncodeHeader writes the 8-byte header for a frame.
func EncodeHeader(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Size)
	binary.LittleEndian.PutUint32(buf[4:8], h.Handle)
	return buf
}

// DecodeHeader parses an 8-byte frame header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("header needs %d bytes, got %d", HeaderSize, len(b))
	}
	return Header{
		Size:   binary.LittleEndian.Uint32(b[0:4]),
		Handle: binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

// Framer reads and writes frames over a Conn.
// It is not safe for concurrent reads.
type Framer struct {
	*Conn

	maxRead  uint32
	maxWrite uint32
}

// NewFramer creates a client-side framer: requests are bounded by
// MaxRequestSize and responses by MaxResponseSize.
func NewFramer(conn *Conn) *Framer {
	return NewFramerWithLimits(conn, MaxResponseSize, MaxRequestSize)
}

// NewFramerWithLimits creates a framer with custom payload ceilings.
func NewFramerWithLimits(conn *Conn, maxRead, maxWrite uint32) *Framer {
	return &Framer{
		Conn:     conn,
		maxRead:  maxRead,
		maxWrite: maxWrite,
	}
}

// ReadFrame reads the next frame. The header is read under the header
// timeout and the payload under the chunk timeout.
func (f *Framer) ReadFrame() (Frame, error) {
	raw, err := f.readExact(HeaderSize, f.config.HeaderTimeout)
	if err != nil {
		return Frame{}, err
	}
	h, _ := DecodeHeader(raw)

	if h.Size == 0 {
		return Frame{}, connErr("read frame", ErrEmptyFrame)
	}
	if h.Handle == 0 {
		return Frame{}, connErr("read frame", ErrZeroHandle)
	}
	if h.Size > f.maxRead {
		return Frame{}, protoErr("read frame", fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, h.Size, f.maxRead))
	}

	payload, err := f.readExact(int(h.Size), f.config.ChunkTimeout)
	if err != nil {
		return Frame{}, err
	}

	if log.Enabled(f.config.Logger) {
		f.config.Logger.Log(f.frameEvent(log.DirectionIn, h.Handle, payload))
	}
	return Frame{Handle: h.Handle, Payload: payload}, nil
}

// WriteFrame writes payload with the given handle. Oversized payloads are
// rejected before anything is written.
func (f *Framer) WriteFrame(handle uint32, payload []byte) error {
	if uint32(len(payload)) > f.maxWrite {
		return fmt.Errorf("%w: %d > %d", ErrRequestTooLarge, len(payload), f.maxWrite)
	}

	hdr := EncodeHeader(Header{Size: uint32(len(payload)), Handle: handle})
	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = append(buf, hdr[:]...)
	buf = append(buf, payload...)
	if err := f.WriteAll(buf); err != nil {
		return err
	}

	if log.Enabled(f.config.Logger) {
		f.config.Logger.Log(f.frameEvent(log.DirectionOut, handle, payload))
	}
	return nil
}

func (f *Framer) frameEvent(dir log.Direction, handle uint32, payload []byte) log.Event {
	ev := log.NewFrameEvent(f.connID, dir, handle, HeaderSize, payload)
	ev.RemoteAddr = f.remoteAddrString()
	return ev
}

// FrameSize returns the total frame size including the header.
func FrameSize(payloadSize int) int {
	return HeaderSize + payloadSize
}
