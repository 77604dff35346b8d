package frame

import (
	"crypto/cipher"

	"github.com/werkstattwaedi/machine-auth/pkg/crypto"
	"golang.org/x/crypto/chacha20poly1305"
)

// Suite selects the AEAD primitive protecting frames.
// All suites share the same frame layout and a 16-byte tag.
type Suite int

const (
	// SuiteAscon128 uses ASCON-AEAD128. Devices speak this suite.
	SuiteAscon128 Suite = iota

	// SuiteXChaCha20Poly1305 uses XChaCha20-Poly1305 with a 32-byte key
	// expanded from the device key by HKDF-SHA256. The 16-byte frame nonce is
	// zero-extended to 24 bytes.
	SuiteXChaCha20Poly1305
)

// xchachaKeyInfo is the HKDF info string binding expanded keys to this use.
var xchachaKeyInfo = []byte("maco-frame-xchacha")

// String returns the flag name of the suite.
func (s Suite) String() string {
	switch s {
	case SuiteAscon128:
		return "ascon"
	case SuiteXChaCha20Poly1305:
		return "xchacha20poly1305"
	default:
		return "unknown"
	}
}

// IsValid returns true if the suite is a defined value.
func (s Suite) IsValid() bool {
	return s == SuiteAscon128 || s == SuiteXChaCha20Poly1305
}

// ParseSuite parses a suite name as produced by String.
func ParseSuite(name string) (Suite, error) {
	switch name {
	case "ascon", "ascon128", "ascon-aead128":
		return SuiteAscon128, nil
	case "xchacha20poly1305", "xchacha":
		return SuiteXChaCha20Poly1305, nil
	default:
		return 0, ErrUnknownSuite
	}
}

// newAEAD builds the AEAD for a 16-byte device key and returns it along with
// the AEAD-level nonce for a 16-byte frame nonce.
func (s Suite) newAEAD(key, nonce []byte) (cipher.AEAD, []byte, error) {
	switch s {
	case SuiteAscon128:
		aead, err := crypto.NewAsconAEAD(key)
		if err != nil {
			return nil, nil, err
		}
		return aead, nonce, nil

	case SuiteXChaCha20Poly1305:
		expanded, err := crypto.HKDFSHA256(key, nil, xchachaKeyInfo, chacha20poly1305.KeySize)
		if err != nil {
			return nil, nil, err
		}
		aead, err := chacha20poly1305.NewX(expanded)
		if err != nil {
			return nil, nil, err
		}
		xnonce := make([]byte, chacha20poly1305.NonceSizeX)
		copy(xnonce, nonce)
		return aead, xnonce, nil

	default:
		return nil, nil, ErrUnknownSuite
	}
}
