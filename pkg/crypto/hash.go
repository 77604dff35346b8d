// Package crypto provides the primitives behind device frames and device keys:
// the ASCON permutation with ASCON-AEAD128 and ASCON-Hash256 (NIST SP 800-232),
// SHA-256 for gateways provisioned with SHA-based key derivation, and
// HKDF-SHA256 for expanding device keys to other cipher suites.
package crypto

import (
	"crypto/sha256"
)

// SHA256Size is the SHA-256 digest length in bytes.
const SHA256Size = sha256.Size

// SHA256 computes the SHA-256 digest of a message.
func SHA256(message []byte) [SHA256Size]byte {
	return sha256.Sum256(message)
}

// SHA256Slice computes the SHA-256 digest and returns it as a slice.
func SHA256Slice(message []byte) []byte {
	h := sha256.Sum256(message)
	return h[:]
}
