package client

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbxremote/gbxremote-go/pkg/log"
	"github.com/gbxremote/gbxremote-go/pkg/transport"
	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

func TestNewClientIsIdle(t *testing.T) {
	c := New(&scriptConn{})
	assert.Equal(t, StateIdle, c.State())
	assert.NoError(t, c.Err())
	assert.Equal(t, "test-conn", c.ConnID())
}

func TestHandshake(t *testing.T) {
	c := New(&scriptConn{})
	require.NoError(t, c.Handshake())
	assert.Equal(t, StateReady, c.State())

	assert.ErrorIs(t, c.Handshake(), ErrAlreadyHandshaken)
}

func TestHandshakeFailureFaults(t *testing.T) {
	want := &transport.ProtocolError{Op: "handshake", Err: transport.ErrHandshakeMismatch}
	conn := &scriptConn{handshakeErr: want}
	c := New(conn)

	err := c.Handshake()
	assert.ErrorIs(t, err, transport.ErrHandshakeMismatch)
	assert.Equal(t, StateFaulted, c.State())
	assert.Equal(t, 1, conn.closed)

	_, err = c.Query("GetVersion")
	assert.Same(t, want, err)
}

func TestQueryBeforeHandshake(t *testing.T) {
	conn := &scriptConn{}
	c := New(conn)

	_, err := c.Query("GetVersion")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, conn.writes)
}

func TestHandleSequence(t *testing.T) {
	conn := &scriptConn{respond: replyWith(xmlrpc.Bool(true))}
	c := readyClient(conn)

	for i := 0; i < 3; i++ {
		_, err := c.Query("Ping")
		require.NoError(t, err)
	}

	require.Len(t, conn.writes, 3)
	assert.Equal(t, uint32(0x80000001), conn.writes[0].Handle)
	assert.Equal(t, uint32(0x80000002), conn.writes[1].Handle)
	assert.Equal(t, uint32(0x80000003), conn.writes[2].Handle)
}

func TestHandleWrap(t *testing.T) {
	c := New(&scriptConn{})
	c.handle = 0xFFFFFFFE

	assert.Equal(t, uint32(0xFFFFFFFF), c.nextHandle())
	assert.Equal(t, uint32(0x80000001), c.nextHandle())
	assert.Equal(t, uint32(0x80000002), c.nextHandle())
}

func TestQueryReturnsValue(t *testing.T) {
	conn := &scriptConn{respond: replyWith(xmlrpc.StructOf("Code", xmlrpc.Int(4), "Name", xmlrpc.String("Running - Play")))}
	c := readyClient(conn)

	v, err := c.Query("GetStatus")
	require.NoError(t, err)
	code, _ := v.Field("Code").AsInt()
	assert.Equal(t, int64(4), code)
	assert.Equal(t, StateReady, c.State())
	assert.Zero(t, c.pending)
}

func TestQueryQueuesInterleavedCallbacks(t *testing.T) {
	conn := &scriptConn{}
	conn.respond = func(out transport.Frame) []transport.Frame {
		return []transport.Frame{
			callbackFrame(0x00000001, "TrackMania.PlayerConnect", xmlrpc.String("yuha.tmf"), xmlrpc.Bool(false)),
			callbackFrame(0x00000002, "TrackMania.PlayerDisconnect", xmlrpc.String("yuha.tmf")),
			responseFrame(out.Handle, xmlrpc.Bool(true)),
		}
	}
	c := readyClient(conn)

	v, err := c.Query("ChatSendServerMessage", xmlrpc.String("hello"))
	require.NoError(t, err)
	assert.True(t, v.Equal(xmlrpc.Bool(true)))

	require.Equal(t, 2, c.Pending())
	first, ok := c.PopCallback()
	require.True(t, ok)
	assert.Equal(t, "TrackMania.PlayerConnect", first.Method)
	assert.Equal(t, uint32(1), first.Handle)
	assert.Len(t, first.Params, 2)

	second, ok := c.PopCallback()
	require.True(t, ok)
	assert.Equal(t, "TrackMania.PlayerDisconnect", second.Method)

	_, ok = c.PopCallback()
	assert.False(t, ok)
}

func TestQueryFaultKeepsClientReady(t *testing.T) {
	conn := &scriptConn{}
	conn.respond = func(out transport.Frame) []transport.Frame {
		return []transport.Frame{faultFrame(out.Handle, -1000, "Login unknown.")}
	}
	c := readyClient(conn)

	_, err := c.Query("Kick", xmlrpc.String("nobody"))
	var f *xmlrpc.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, -1000, f.Code)
	assert.Equal(t, "Login unknown.", f.Message)
	assert.False(t, transport.IsFatal(err))
	assert.Equal(t, StateReady, c.State())
	assert.Zero(t, conn.closed)
}

func TestQueryUnexpectedClientHandleIsFatal(t *testing.T) {
	conn := &scriptConn{}
	conn.respond = func(out transport.Frame) []transport.Frame {
		return []transport.Frame{responseFrame(out.Handle+7, xmlrpc.Bool(true))}
	}
	c := readyClient(conn)

	_, err := c.Query("GetVersion")
	var pe *transport.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, transport.ErrUnexpectedHandle)
	assert.Equal(t, StateFaulted, c.State())
	assert.Equal(t, 1, conn.closed)

	_, again := c.Query("GetVersion")
	assert.Same(t, err, again)
	assert.Same(t, err, c.Err())
	assert.Len(t, conn.writes, 1)
}

func TestQueryReadErrorIsFatal(t *testing.T) {
	readErr := &transport.ConnectionError{Op: "read frame", Err: transport.ErrNoProgress}
	conn := &scriptConn{readErr: readErr}
	c := readyClient(conn)

	_, err := c.Query("GetVersion")
	assert.ErrorIs(t, err, transport.ErrNoProgress)
	assert.True(t, transport.IsFatal(err))
	assert.Equal(t, StateFaulted, c.State())
}

func TestQueryWriteErrorIsFatal(t *testing.T) {
	conn := &scriptConn{writeErr: &transport.ConnectionError{Op: "write", Err: errors.New("broken pipe")}}
	c := readyClient(conn)

	_, err := c.Query("GetVersion")
	assert.True(t, transport.IsFatal(err))
	assert.Equal(t, StateFaulted, c.State())
}

func TestQueryTooLargeIsNotFatal(t *testing.T) {
	conn := &scriptConn{respond: replyWith(xmlrpc.Bool(true))}
	c := readyClient(conn)

	huge := strings.Repeat("x", transport.MaxRequestSize)
	_, err := c.Query("SendDisplayManialinkPage", xmlrpc.String(huge))
	var ee *xmlrpc.EncodingError
	require.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, transport.ErrRequestTooLarge)
	assert.False(t, transport.IsFatal(err))
	assert.Equal(t, StateReady, c.State())
	assert.Zero(t, conn.closed)
	assert.Empty(t, conn.writes)

	// No handle was spent on the rejected request.
	_, err = c.Query("Ping")
	require.NoError(t, err)
	require.Len(t, conn.writes, 1)
	assert.Equal(t, uint32(0x80000001), conn.writes[0].Handle)
}

func TestQueryTooLargeAtFramerKeepsHandle(t *testing.T) {
	conn := &scriptConn{writeErr: transport.ErrRequestTooLarge}
	c := readyClient(conn)

	_, err := c.Query("SendDisplayManialinkPage", xmlrpc.String("huge"))
	var ee *xmlrpc.EncodingError
	require.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, transport.ErrRequestTooLarge)
	assert.Equal(t, StateReady, c.State())

	conn.writeErr = nil
	conn.respond = replyWith(xmlrpc.Bool(true))
	_, err = c.Query("Ping")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x80000001), conn.writes[0].Handle)
}

func TestQueryEncodingErrorIsLocal(t *testing.T) {
	conn := &scriptConn{respond: replyWith(xmlrpc.Bool(true))}
	c := readyClient(conn)

	_, err := c.Query("SetValue", xmlrpc.Double(math.NaN()))
	var ee *xmlrpc.EncodingError
	require.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, xmlrpc.ErrUnsupportedType)
	assert.Empty(t, conn.writes)
	assert.Equal(t, StateReady, c.State())

	_, err = c.Query("Ping")
	assert.NoError(t, err)
}

func TestMalformedResponseIsProtocolError(t *testing.T) {
	conn := &scriptConn{}
	conn.respond = func(out transport.Frame) []transport.Frame {
		return []transport.Frame{{Handle: out.Handle, Payload: []byte("<methodResponse><params>")}}
	}
	c := readyClient(conn)

	_, err := c.Query("GetVersion")
	var pe *transport.ProtocolError
	require.ErrorAs(t, err, &pe)
	var ee *xmlrpc.EncodingError
	assert.ErrorAs(t, err, &ee)
	assert.Equal(t, StateFaulted, c.State())
}

func TestMalformedCallbackIsProtocolError(t *testing.T) {
	conn := &scriptConn{}
	conn.respond = func(out transport.Frame) []transport.Frame {
		return []transport.Frame{
			{Handle: 0x00000005, Payload: []byte("<methodCall><methodName>x</methodName><params><param><value><bogus/></value></param></params></methodCall>")},
			responseFrame(out.Handle, xmlrpc.Bool(true)),
		}
	}
	c := readyClient(conn)

	_, err := c.Query("GetVersion")
	assert.ErrorIs(t, err, xmlrpc.ErrUnknownTag)
	assert.True(t, transport.IsFatal(err))
	assert.Equal(t, StateFaulted, c.State())
}

func TestCall(t *testing.T) {
	conn := &scriptConn{respond: replyWith(xmlrpc.Bool(true))}
	c := readyClient(conn)

	_, err := c.Call("SendDisplayManialinkPageToLogin", "yuha.tmf", "<manialink id=\"1\"/>", 0, false)
	require.NoError(t, err)

	require.Len(t, conn.writes, 1)
	payload := string(conn.writes[0].Payload)
	assert.Contains(t, payload, "<methodName>SendDisplayManialinkPageToLogin</methodName>")
	assert.Contains(t, payload, "<int>0</int>")
	assert.Contains(t, payload, "<boolean>0</boolean>")

	_, err = c.Call("Bad", make(chan int))
	assert.ErrorIs(t, err, xmlrpc.ErrUnsupportedType)
}

func TestMulticall(t *testing.T) {
	conn := &scriptConn{}
	conn.respond = func(out transport.Frame) []transport.Frame {
		payload, err := testBuilder.BuildMulticallResponse([]xmlrpc.Result{
			{Value: xmlrpc.Bool(true)},
			{Fault: &xmlrpc.Fault{Code: -1000, Message: "Login unknown."}},
			{Value: xmlrpc.StructOf("Code", xmlrpc.Int(4), "Name", xmlrpc.String("Running - Play"))},
		})
		if err != nil {
			panic(err)
		}
		return []transport.Frame{
			callbackFrame(0x00000003, "TrackMania.StatusChanged", xmlrpc.Int(4), xmlrpc.String("Running - Play")),
			{Handle: out.Handle, Payload: payload},
		}
	}
	c := readyClient(conn)

	results, err := c.Multicall([]xmlrpc.Call{
		xmlrpc.NewCall("EnableCallbacks", xmlrpc.Bool(true)),
		xmlrpc.NewCall("Kick", xmlrpc.String("nobody")),
		xmlrpc.NewCall("GetStatus"),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err())
	assert.True(t, results[0].Value.Equal(xmlrpc.Bool(true)))

	f, ok := xmlrpc.AsFault(results[1].Err())
	require.True(t, ok)
	assert.Equal(t, -1000, f.Code)

	name, _ := results[2].Value.Field("Name").AsString()
	assert.Equal(t, "Running - Play", name)

	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1, c.Pending())
	assert.Contains(t, string(conn.writes[0].Payload), "<methodName>system.multicall</methodName>")
}

func TestMulticallWholeFault(t *testing.T) {
	conn := &scriptConn{}
	conn.respond = func(out transport.Frame) []transport.Frame {
		return []transport.Frame{faultFrame(out.Handle, -32602, "bad params")}
	}
	c := readyClient(conn)

	_, err := c.Multicall([]xmlrpc.Call{xmlrpc.NewCall("GetStatus")})
	_, ok := xmlrpc.AsFault(err)
	assert.True(t, ok)
	assert.Equal(t, StateReady, c.State())
}

func TestPollCallbacks(t *testing.T) {
	conn := &scriptConn{}
	c := readyClient(conn)

	got, err := c.PollCallbacks(0)
	require.NoError(t, err)
	assert.False(t, got)

	conn.push(
		callbackFrame(0x00000001, "TrackMania.PlayerChat", xmlrpc.Int(0), xmlrpc.String("yuha.tmf"), xmlrpc.String("gg")),
		callbackFrame(0x00000002, "TrackMania.PlayerChat", xmlrpc.Int(0), xmlrpc.String("yuha.tmf"), xmlrpc.String("again")),
	)

	got, err = c.PollCallbacks(0)
	require.NoError(t, err)
	assert.True(t, got)

	cbs := c.DrainCallbacks()
	require.Len(t, cbs, 2)
	msg, _ := cbs[1].Arg("param2").AsString()
	assert.Equal(t, "again", msg)
	assert.Zero(t, c.Pending())
}

func TestPollClientHandleWhileIdleIsFatal(t *testing.T) {
	conn := &scriptConn{}
	c := readyClient(conn)
	conn.push(responseFrame(0x80000042, xmlrpc.Bool(true)))

	_, err := c.PollCallbacks(0)
	assert.ErrorIs(t, err, transport.ErrUnexpectedHandle)
	assert.Equal(t, StateFaulted, c.State())
}

func TestPollBeforeHandshake(t *testing.T) {
	c := New(&scriptConn{})
	_, err := c.PollCallbacks(0)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestCallbackNamesFromNamer(t *testing.T) {
	namer := &fixedNamer{names: map[string][]string{"TrackMania.PlayerFinish": {"finishTime", "Login", "rank"}}}
	conn := &scriptConn{}
	c := readyClient(conn, WithParamNamer(namer))

	conn.push(callbackFrame(0x00000001, "TrackMania.PlayerFinish", xmlrpc.Int(0), xmlrpc.String("yuha.tmf"), xmlrpc.Int(51234)))
	_, err := c.PollCallbacks(0)
	require.NoError(t, err)

	cb, ok := c.PopCallback()
	require.True(t, ok)
	assert.Equal(t, []string{"finishTime", "Login", "rank"}, cb.Args.Keys())
	login, _ := cb.Arg("Login").AsString()
	assert.Equal(t, "yuha.tmf", login)
}

func TestClose(t *testing.T) {
	conn := &scriptConn{}
	c := readyClient(conn)
	conn.push(callbackFrame(0x00000001, "TrackMania.PlayerDisconnect", xmlrpc.String("yuha.tmf")))
	_, err := c.PollCallbacks(0)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, conn.closed)
	assert.Equal(t, StateClosed, c.State())

	_, err = c.Query("GetVersion")
	assert.ErrorIs(t, err, ErrClientClosed)

	// queued callbacks survive Close
	_, ok := c.PopCallback()
	assert.True(t, ok)
}

func TestCloseAfterFaultKeepsError(t *testing.T) {
	conn := &scriptConn{}
	c := readyClient(conn)
	_, err := c.Query("GetVersion")
	require.Error(t, err)

	require.NoError(t, c.Close())
	assert.Equal(t, 1, conn.closed)

	_, again := c.Query("GetVersion")
	assert.Same(t, err, again)
}

func TestProtocolEvents(t *testing.T) {
	capture := &capturingLogger{}
	conn := &scriptConn{}
	conn.respond = func(out transport.Frame) []transport.Frame {
		return []transport.Frame{
			callbackFrame(0x00000001, "TrackMania.PlayerConnect", xmlrpc.String("yuha.tmf"), xmlrpc.Bool(false)),
			faultFrame(out.Handle, -1000, "Login unknown."),
		}
	}
	c := readyClient(conn, WithProtocolLogger(capture), WithRemoteAddr("127.0.0.1:5000"))

	_, err := c.Query("Kick", xmlrpc.String("nobody"))
	require.Error(t, err)

	msgs := capture.messages()
	require.Len(t, msgs, 3)

	assert.Equal(t, log.MessageTypeCall, msgs[0].Type)
	assert.Equal(t, "Kick", msgs[0].Method)
	assert.Equal(t, uint32(0x80000001), msgs[0].Handle)
	assert.Equal(t, []any{"nobody"}, msgs[0].Payload)

	assert.Equal(t, log.MessageTypeCallback, msgs[1].Type)
	assert.Equal(t, "TrackMania.PlayerConnect", msgs[1].Method)

	assert.Equal(t, log.MessageTypeFault, msgs[2].Type)
	require.NotNil(t, msgs[2].FaultCode)
	assert.Equal(t, -1000, *msgs[2].FaultCode)
	assert.NotNil(t, msgs[2].Duration)

	assert.Equal(t, []string{"HANDSHAKING", "READY", "AWAITING_RESPONSE", "READY"}, capture.states())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "AWAITING_RESPONSE", StateAwaitingResponse.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
	assert.True(t, StateFaulted.Terminal())
	assert.False(t, StateReady.Terminal())
}

type fixedNamer struct {
	names map[string][]string
}

func (n *fixedNamer) ParamName(method string, index int) (string, bool) {
	names := n.names[method]
	if index < len(names) {
		return names[index], true
	}
	return "", false
}

func (n *fixedNamer) Learn(string, int, string, xmlrpc.Value) {}
