package realtime

// StateKind enumerates connection lifecycle phases.
type StateKind string

const (
	StateDisconnected StateKind = "disconnected"
	StateConnecting   StateKind = "connecting"
	StateConnected    StateKind = "connected"
	StateReconnecting StateKind = "reconnecting"
	StateFailed       StateKind = "failed"
)

// State is the connection state with an optional failure reason. It is a
// comparable value: failed states are equal when their reasons are equal.
type State struct {
	Kind   StateKind
	Reason string
}

// Disconnected returns the idle state.
func Disconnected() State { return State{Kind: StateDisconnected} }

// Connecting returns the in-progress handshake state.
func Connecting() State { return State{Kind: StateConnecting} }

// Connected returns the established state.
func Connected() State { return State{Kind: StateConnected} }

// Reconnecting returns the waiting-to-retry state.
func Reconnecting() State { return State{Kind: StateReconnecting} }

// Failed returns the terminal failure state with a reason.
func Failed(reason string) State { return State{Kind: StateFailed, Reason: reason} }

func (s State) String() string {
	if s.Kind == StateFailed && s.Reason != "" {
		return string(s.Kind) + ": " + s.Reason
	}
	return string(s.Kind)
}
