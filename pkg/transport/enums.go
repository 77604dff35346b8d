package transport

// ConnState is the lifecycle state of a Connection.
type ConnState int

const (
	// StateUnbound means no frame has identified a device yet.
	StateUnbound ConnState = iota
	// StateBound means the device identifier and key are fixed.
	StateBound
	// StateClosed is terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s ConnState) String() string {
	switch s {
	case StateUnbound:
		return "Unbound"
	case StateBound:
		return "Bound"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the state is a known valid state.
func (s ConnState) IsValid() bool {
	return s >= StateUnbound && s <= StateClosed
}
