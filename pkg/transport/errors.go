package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed server.
	ErrClosed = errors.New("transport: closed")

	// ErrAlreadyStarted is returned when Start is called on a running server.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrNoHandler is returned when no RPC handler is configured.
	ErrNoHandler = errors.New("transport: no rpc handler configured")

	// ErrNoKeyStore is returned when no key store is configured.
	ErrNoKeyStore = errors.New("transport: no key store configured")

	// ErrTooManyConnections is returned when a connection is refused because
	// the server is at its connection limit.
	ErrTooManyConnections = errors.New("transport: too many connections")

	// ErrDeviceIDMismatch terminates a connection that carries a frame for a
	// device other than the one it is bound to.
	ErrDeviceIDMismatch = errors.New("transport: device id mismatch")
)
