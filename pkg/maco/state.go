package maco

// State represents the lifecycle state of a Gateway.
type State int

const (
	// StateIdle means the gateway is created but not started.
	StateIdle State = iota

	// StateRunning means the gateway is accepting device connections.
	StateRunning

	// StateStopped means the gateway has been shut down.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// IsRunning returns true if the gateway is serving devices.
func (s State) IsRunning() bool {
	return s == StateRunning
}

// CanStart returns true if Start() can be called in this state.
func (s State) CanStart() bool {
	return s == StateIdle
}
