package terminal

import "fmt"

// State is the connection state of a Client.
type State int

const (
	// StateDisconnected is the initial state, and the state after an
	// authentication failure. Nothing reconnects from here automatically.
	StateDisconnected State = iota

	// StateConnecting covers credential lookup and the WebSocket handshake.
	StateConnecting

	// StateConnected means the socket is open and frames flow both ways.
	StateConnected

	// StateClosedByUser is terminal: Teardown was called.
	StateClosedByUser

	// StateClosedUnexpectedly means the socket dropped or the dial failed.
	// A single reconnect is scheduled from here.
	StateClosedUnexpectedly
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosedByUser:
		return "closed-by-user"
	case StateClosedUnexpectedly:
		return "closed-unexpectedly"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions is the only place legal state changes are listed.
var transitions = map[State][]State{
	StateDisconnected:       {StateConnecting, StateClosedByUser},
	StateConnecting:         {StateConnected, StateClosedUnexpectedly, StateDisconnected, StateClosedByUser},
	StateConnected:          {StateClosedUnexpectedly, StateDisconnected, StateClosedByUser},
	StateClosedUnexpectedly: {StateConnecting, StateDisconnected, StateClosedByUser},
	StateClosedByUser:       {},
}

// CanTransition reports whether from → to is a legal state change.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is returned when the event loop is asked to make a state
// change the table does not allow.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// Status is what the status callback receives after every transition.
type Status struct {
	State State
	// Err is the last surfaced error: a dial failure, an upstream error
	// frame, or ErrAuthRequired. Nil after a successful connect.
	Err error
}
