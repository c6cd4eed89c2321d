package transport

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbxremote/gbxremote-go/pkg/log"
)

func TestHeaderCodec(t *testing.T) {
	tests := []struct {
		name string
		h    Header
		raw  []byte
	}{
		{"client handle", Header{Size: 5, Handle: 0x80000001}, []byte{5, 0, 0, 0, 1, 0, 0, 0x80}},
		{"callback handle", Header{Size: 0x0102, Handle: 7}, []byte{2, 1, 0, 0, 7, 0, 0, 0}},
		{"max request", Header{Size: MaxRequestSize, Handle: 0xFFFFFFFF}, []byte{0xF8, 0xFF, 0x07, 0, 0xFF, 0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := EncodeHeader(tt.h)
			assert.Equal(t, tt.raw, enc[:])

			dec, err := DecodeHeader(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.h, dec)
		})
	}

	_, err := DecodeHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestIsClientHandle(t *testing.T) {
	assert.True(t, IsClientHandle(0x80000001))
	assert.True(t, IsClientHandle(0xFFFFFFFF))
	assert.False(t, IsClientHandle(1))
	assert.False(t, IsClientHandle(0x7FFFFFFF))
	assert.True(t, Frame{Handle: 2}.IsCallback())
}

func TestFramerRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cf := NewFramer(NewConn(client, testConfig()))
	sf := NewFramerWithLimits(NewConn(server, testConfig()), MaxRequestSize, MaxResponseSize)

	payloads := []string{"<methodCall/>", strings.Repeat("x", 70000), "a"}

	go func() {
		for i, p := range payloads {
			cf.WriteFrame(0x80000001+uint32(i), []byte(p))
		}
	}()

	for i, p := range payloads {
		f, err := sf.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, 0x80000001+uint32(i), f.Handle)
		assert.Equal(t, p, string(f.Payload))
	}
}

func TestReadFrameFragmented(t *testing.T) {
	c, srv := pipe(t, testConfig(), func(nc net.Conn) net.Conn { return trickleConn{nc} })
	f := NewFramer(c)

	payload := "<methodResponse><params/></methodResponse>"
	serve(srv, frameBytes(0x80000001, payload), frameBytes(3, "<methodCall/>"))

	fr, err := f.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x80000001), fr.Handle)
	assert.Equal(t, payload, string(fr.Payload))

	fr, err = f.ReadFrame()
	require.NoError(t, err)
	assert.True(t, fr.IsCallback())
}

func TestReadFrameRejects(t *testing.T) {
	tests := []struct {
		name    string
		header  Header
		fatal   any
		wantErr error
	}{
		{"zero size", Header{Size: 0, Handle: 0x80000001}, &ConnectionError{}, ErrEmptyFrame},
		{"zero handle", Header{Size: 4, Handle: 0}, &ConnectionError{}, ErrZeroHandle},
		{"oversize", Header{Size: MaxResponseSize + 1, Handle: 0x80000001}, &ProtocolError{}, ErrFrameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := pipe(t, testConfig(), nil)
			hdr := EncodeHeader(tt.header)
			// Only the header is sent: a payload read would time out instead.
			serve(srv, hdr[:])

			_, err := NewFramer(c).ReadFrame()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.IsType(t, tt.fatal, err)
			assert.True(t, IsFatal(err))
		})
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkTimeout = 20 * time.Millisecond
	c, srv := pipe(t, cfg, nil)

	full := frameBytes(0x80000001, "0123456789")
	serve(srv, full[:12])

	_, err := NewFramer(c).ReadFrame()
	var ce *ConnectionError
	assert.ErrorAs(t, err, &ce)
}

func TestWriteFrameTooLarge(t *testing.T) {
	c, _ := pipe(t, testConfig(), nil)
	f := NewFramer(c)

	done := make(chan error, 1)
	go func() {
		done <- f.WriteFrame(0x80000001, make([]byte, MaxRequestSize+1))
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRequestTooLarge)
		assert.False(t, IsFatal(err))
	case <-time.After(time.Second):
		t.Fatal("oversize write reached the stream")
	}
}

func TestFramerLogsFrames(t *testing.T) {
	logger := &capturingLogger{}
	cfg := testConfig()
	cfg.Logger = logger

	c, srv := pipe(t, cfg, nil)
	f := NewFramer(c)

	go func() {
		buf := make([]byte, HeaderSize+5)
		srv.Read(buf)
		srv.Write(frameBytes(0x80000001, strings.Repeat("y", log.MaxFrameDataSize+10)))
	}()

	require.NoError(t, f.WriteFrame(0x80000001, []byte("hello")))
	_, err := f.ReadFrame()
	require.NoError(t, err)

	frames := logger.Frames()
	require.Len(t, frames, 2)

	out := frames[0]
	assert.Equal(t, log.DirectionOut, out.Direction)
	assert.Equal(t, c.ConnID(), out.ConnectionID)
	assert.Equal(t, HeaderSize+5, out.Frame.Size)
	assert.Equal(t, uint32(0x80000001), out.Frame.Handle)
	assert.True(t, bytes.Equal([]byte("hello"), out.Frame.Data))

	in := frames[1]
	assert.Equal(t, log.DirectionIn, in.Direction)
	assert.True(t, in.Frame.Truncated)
	assert.Len(t, in.Frame.Data, log.MaxFrameDataSize)
}

func TestFrameSize(t *testing.T) {
	assert.Equal(t, 8, FrameSize(0))
	assert.Equal(t, 512*1024, FrameSize(MaxRequestSize))
}
