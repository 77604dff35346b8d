// ASCON permutation as standardized in NIST SP 800-232.
// The state is five 64-bit words; byte strings are loaded little-endian.

package crypto

import (
	"encoding/binary"
	"math/bits"
)

// asconRoundConstants holds the constants for the 12-round permutation p12.
// p8 uses the last eight entries.
var asconRoundConstants = [12]uint64{
	0xf0, 0xe1, 0xd2, 0xc3, 0xb4, 0xa5, 0x96, 0x87, 0x78, 0x69, 0x5a, 0x4b,
}

// asconState is the 320-bit ASCON state.
type asconState [5]uint64

// permute applies the last n rounds of the 12-round permutation.
func (s *asconState) permute(n int) {
	for _, c := range asconRoundConstants[12-n:] {
		s.round(c)
	}
}

func (s *asconState) round(c uint64) {
	x0, x1, x2, x3, x4 := s[0], s[1], s[2], s[3], s[4]

	// Constant addition
	x2 ^= c

	// Substitution layer
	x0 ^= x4
	x4 ^= x3
	x2 ^= x1
	t0 := x0 ^ (^x1 & x2)
	t1 := x1 ^ (^x2 & x3)
	t2 := x2 ^ (^x3 & x4)
	t3 := x3 ^ (^x4 & x0)
	t4 := x4 ^ (^x0 & x1)
	t1 ^= t0
	t0 ^= t4
	t3 ^= t2
	t2 = ^t2

	// Linear diffusion layer
	s[0] = t0 ^ bits.RotateLeft64(t0, -19) ^ bits.RotateLeft64(t0, -28)
	s[1] = t1 ^ bits.RotateLeft64(t1, -61) ^ bits.RotateLeft64(t1, -39)
	s[2] = t2 ^ bits.RotateLeft64(t2, -1) ^ bits.RotateLeft64(t2, -6)
	s[3] = t3 ^ bits.RotateLeft64(t3, -10) ^ bits.RotateLeft64(t3, -17)
	s[4] = t4 ^ bits.RotateLeft64(t4, -7) ^ bits.RotateLeft64(t4, -41)
}

// asconPad returns the padding word for a partial block of n bytes (n < 8).
func asconPad(n int) uint64 {
	return 0x01 << (8 * uint(n))
}

// loadPartial loads up to 8 bytes little-endian.
func loadPartial(b []byte) uint64 {
	if len(b) >= 8 {
		return binary.LittleEndian.Uint64(b)
	}
	var x uint64
	for i := len(b) - 1; i >= 0; i-- {
		x = x<<8 | uint64(b[i])
	}
	return x
}

// storePartial stores the low len(b) bytes of x little-endian into b.
func storePartial(b []byte, x uint64) {
	if len(b) >= 8 {
		binary.LittleEndian.PutUint64(b, x)
		return
	}
	for i := range b {
		b[i] = byte(x >> (8 * uint(i)))
	}
}

// clearLow zeroes the low n bytes of x.
func clearLow(x uint64, n int) uint64 {
	if n >= 8 {
		return 0
	}
	return x &^ (1<<(8*uint(n)) - 1)
}
