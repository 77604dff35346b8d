package rpc

import "errors"

// RPC errors.
var (
	// ErrMalformedPacket is returned when a packet cannot be decoded.
	ErrMalformedPacket = errors.New("rpc: malformed packet")

	// ErrUnimplemented is returned by handlers for unknown services or methods.
	ErrUnimplemented = errors.New("rpc: unimplemented")

	// ErrInvalidArgument is returned when a request message cannot be decoded.
	ErrInvalidArgument = errors.New("rpc: invalid argument")

	// ErrInternal is returned when a handler fails unexpectedly.
	ErrInternal = errors.New("rpc: internal error")
)

// StatusFromError maps a handler error to the status sent to the caller.
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrUnimplemented):
		return StatusUnimplemented
	case errors.Is(err, ErrInvalidArgument):
		return StatusInvalidArgument
	default:
		return StatusInternal
	}
}
