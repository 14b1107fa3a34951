package provider

// State is the lifecycle state of a Connection.
type State int

const (
	StateConnecting State = iota
	StateReady
	StateServing
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateServing:
		return "serving"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the connection has finished.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// CallEligible reports whether tool calls are accepted in this state.
func (s State) CallEligible() bool {
	return s == StateReady || s == StateServing
}
