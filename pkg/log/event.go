package log

import (
	"time"
)

// MaxFrameDataSize is the maximum frame payload captured in a FrameEvent.
// Larger payloads are truncated to keep log files bounded.
const MaxFrameDataSize = 4096

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the server address (host:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // RPC layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Client state machine
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates a frame or message received from the server.
	DirectionIn Direction = 0
	// DirectionOut indicates a frame or message sent to the server.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes + handle).
	LayerTransport Layer = 0
	// LayerRPC is the XML-RPC layer (decoded documents).
	LayerRPC Layer = 1
	// LayerClient is the client state machine.
	LayerClient Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerRPC:
		return "RPC"
	case LayerClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (frame, call, response, callback).
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including the 8-byte header).
	Size int `cbor:"1,keyasint"`

	// Handle is the frame's correlation handle.
	Handle uint32 `cbor:"2,keyasint"`

	// Data is the payload (may be truncated for large frames).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// NewFrameEvent builds a transport-layer event for a frame, truncating the
// captured payload at MaxFrameDataSize.
func NewFrameEvent(connID string, dir Direction, handle uint32, headerSize int, payload []byte) Event {
	data := payload
	truncated := false
	if len(payload) > MaxFrameDataSize {
		data = payload[:MaxFrameDataSize]
		truncated = true
	}

	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        LayerTransport,
		Category:     CategoryMessage,
		Frame: &FrameEvent{
			Size:      headerSize + len(payload),
			Handle:    handle,
			Data:      data,
			Truncated: truncated,
		},
	}
}

// MessageEvent captures a decoded XML-RPC document at the rpc layer.
type MessageEvent struct {
	// Type distinguishes call/multicall/response/fault/callback.
	Type MessageType `cbor:"1,keyasint"`

	// Handle correlates calls with their responses.
	Handle uint32 `cbor:"2,keyasint"`

	// Method is the remote method (calls, callbacks) or the method the
	// response belongs to.
	Method string `cbor:"3,keyasint,omitempty"`

	// Payload is a display form of the arguments or the result.
	Payload any `cbor:"4,keyasint,omitempty"`

	// FaultCode is set for fault responses.
	FaultCode *int `cbor:"5,keyasint,omitempty"`

	// FaultString is set for fault responses.
	FaultString string `cbor:"6,keyasint,omitempty"`

	// Duration is the round-trip time from call to response (responses only).
	// Stored as nanoseconds.
	Duration *time.Duration `cbor:"7,keyasint,omitempty"`
}

// MessageType distinguishes the kinds of decoded documents.
type MessageType uint8

const (
	// MessageTypeCall indicates a client-issued methodCall.
	MessageTypeCall MessageType = 0
	// MessageTypeResponse indicates a successful methodResponse.
	MessageTypeResponse MessageType = 1
	// MessageTypeFault indicates a methodResponse carrying a fault.
	MessageTypeFault MessageType = 2
	// MessageTypeCallback indicates a server-pushed methodCall.
	MessageTypeCallback MessageType = 3
	// MessageTypeMulticall indicates a client-issued system.multicall.
	MessageTypeMulticall MessageType = 4
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeCall:
		return "CALL"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypeFault:
		return "FAULT"
	case MessageTypeCallback:
		return "CALLBACK"
	case MessageTypeMulticall:
		return "MULTICALL"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection and client lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a TCP connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityClient indicates an RPC client state change.
	StateEntityClient StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`

	// Fatal reports whether the error ended the connection.
	Fatal bool `cbor:"5,keyasint,omitempty"`
}
