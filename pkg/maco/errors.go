package maco

import "errors"

// Package-level errors.
var (
	// ErrAlreadyStarted is returned when Start() is called on a running gateway.
	ErrAlreadyStarted = errors.New("maco: gateway already started")

	// ErrNotStarted is returned when Stop() is called before Start().
	ErrNotStarted = errors.New("maco: gateway not started")

	// ErrAlreadyStopped is returned when the gateway has already been stopped.
	ErrAlreadyStopped = errors.New("maco: gateway already stopped")

	// ErrInvalidConfig is returned when Config validation fails.
	ErrInvalidConfig = errors.New("maco: invalid configuration")

	// ErrInvalidMasterKey is returned when the master key is not 16 bytes.
	ErrInvalidMasterKey = errors.New("maco: master key must be 16 bytes")

	// ErrInvalidPort is returned when Port is outside 0-65535.
	ErrInvalidPort = errors.New("maco: port must be 0-65535")
)
