package keystore

import (
	"github.com/werkstattwaedi/machine-auth/pkg/crypto"
)

// KDF selects the hash used to derive device keys from the master key.
type KDF int

const (
	// KDFAsconHash256 derives keys with ASCON-Hash256. Devices use this.
	KDFAsconHash256 KDF = iota

	// KDFSHA256 derives keys with SHA-256. Kept for gateways provisioned
	// before devices shipped ASCON-Hash256.
	KDFSHA256
)

// String returns the flag name of the KDF.
func (k KDF) String() string {
	switch k {
	case KDFAsconHash256:
		return "ascon-hash256"
	case KDFSHA256:
		return "sha256"
	default:
		return "unknown"
	}
}

// IsValid returns true if the KDF is a defined value.
func (k KDF) IsValid() bool {
	return k == KDFAsconHash256 || k == KDFSHA256
}

// ParseKDF parses a KDF name as produced by String.
func ParseKDF(name string) (KDF, error) {
	switch name {
	case "ascon-hash256", "ascon":
		return KDFAsconHash256, nil
	case "sha256":
		return KDFSHA256, nil
	default:
		return 0, ErrUnknownKDF
	}
}

// digest hashes input with the selected function.
func (k KDF) digest(input []byte) []byte {
	if k == KDFSHA256 {
		return crypto.SHA256Slice(input)
	}
	sum := crypto.AsconHash256(input)
	return sum[:]
}
