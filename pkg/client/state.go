package client

// State is the lifecycle state of a Client.
type State int

const (
	// StateIdle is a connected client that has not read the greeting.
	StateIdle State = iota

	// StateHandshaking is a client reading the greeting.
	StateHandshaking

	// StateReady accepts queries and polls.
	StateReady

	// StateAwaitingResponse has written a query and waits for its reply.
	StateAwaitingResponse

	// StateClosed was closed by the caller.
	StateClosed

	// StateFaulted hit a connection or protocol error.
	StateFaulted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateReady:
		return "READY"
	case StateAwaitingResponse:
		return "AWAITING_RESPONSE"
	case StateClosed:
		return "CLOSED"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further calls can succeed.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFaulted
}
