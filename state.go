package dbqueue

// State is the phase of a Consumer cycle.
type State int32

const (
	// StateIdle is between cycles.
	StateIdle State = iota
	// StateClaiming is waiting on the claim query.
	StateClaiming
	// StateDispatching is running the handler.
	StateDispatching
	// StateResolving is writing outcomes and committing.
	StateResolving
	// StateStopped is terminal after Run returns.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateClaiming:
		return "CLAIMING"
	case StateDispatching:
		return "DISPATCHING"
	case StateResolving:
		return "RESOLVING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
