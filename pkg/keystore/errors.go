package keystore

import "errors"

// KeyStore errors.
var (
	// ErrInvalidMasterKeyLength is returned when the master key is not exactly
	// MasterKeySize bytes.
	ErrInvalidMasterKeyLength = errors.New("keystore: master key must be 16 bytes")

	// ErrUnknownKDF is returned when a KDF name cannot be parsed.
	ErrUnknownKDF = errors.New("keystore: unknown key derivation function")
)
