package gateway

import "errors"

// Gateway errors.
var (
	// ErrNoForwarder is returned when a Service is created without a Forwarder.
	ErrNoForwarder = errors.New("gateway: no forwarder configured")

	// ErrNoService is returned when a Dispatcher is created without a Service.
	ErrNoService = errors.New("gateway: no service configured")
)
