package frame

import "errors"

// Frame layer errors.
var (
	// Size errors
	ErrFrameTooShort    = errors.New("frame: frame too short")
	ErrInvalidKeySize   = errors.New("frame: invalid key size (must be 16 bytes)")
	ErrInvalidNonceSize = errors.New("frame: invalid nonce size (must be 16 bytes)")

	// Security errors
	ErrAuthenticationFailure = errors.New("frame: authentication failed")
	ErrReplayDetected        = errors.New("frame: replayed or stale nonce")

	// Configuration errors
	ErrUnknownSuite = errors.New("frame: unknown cipher suite")
)

// Frame layout constants.
const (
	// DeviceIDSize is the size of the cleartext device identifier.
	DeviceIDSize = 8

	// NonceSize is the size of the big-endian nonce counter.
	NonceSize = 16

	// TagSize is the size of the authentication tag.
	TagSize = 16

	// KeySize is the device key size.
	KeySize = 16

	// HeaderSize is the cleartext prefix preceding the ciphertext.
	HeaderSize = DeviceIDSize + NonceSize

	// MinFrameSize is the size of a frame carrying an empty payload.
	MinFrameSize = HeaderSize + TagSize
)
