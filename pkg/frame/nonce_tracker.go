package frame

import (
	"encoding/binary"
	"math/bits"
)

// DefaultWindowSize is the default replay window, in nonce values.
const DefaultWindowSize = 64

// nonceValue is a 16-byte nonce as a 128-bit unsigned integer.
type nonceValue struct {
	hi, lo uint64
}

func nonceFromBytes(b []byte) nonceValue {
	return nonceValue{
		hi: binary.BigEndian.Uint64(b[0:8]),
		lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

func (n nonceValue) less(o nonceValue) bool {
	return n.hi < o.hi || (n.hi == o.hi && n.lo < o.lo)
}

// minus returns n-d, clamped at zero.
func (n nonceValue) minus(d uint64) nonceValue {
	lo, borrow := bits.Sub64(n.lo, d, 0)
	hi, borrow := bits.Sub64(n.hi, 0, borrow)
	if borrow != 0 {
		return nonceValue{}
	}
	return nonceValue{hi: hi, lo: lo}
}

// NonceTracker is a sliding-window replay detector for inbound frame nonces.
// It rejects nonces already seen and nonces more than the window size below
// the highest nonce accepted so far.
//
// A NonceTracker is owned by a single connection and is not safe for
// concurrent use.
type NonceTracker struct {
	highest nonceValue
	seen    map[nonceValue]struct{}
	window  uint64
}

// NewNonceTracker creates a tracker with the given window size.
// A non-positive size selects DefaultWindowSize.
func NewNonceTracker(windowSize int) *NonceTracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &NonceTracker{
		seen:   make(map[nonceValue]struct{}),
		window: uint64(windowSize),
	}
}

// CheckAndUpdate reports whether the 16-byte nonce is fresh and, if so,
// records it. Nonces of the wrong size are rejected.
func (t *NonceTracker) CheckAndUpdate(nonce []byte) bool {
	if len(nonce) != NonceSize {
		return false
	}
	n := nonceFromBytes(nonce)

	// Too old
	if n.less(t.highest.minus(t.window)) {
		return false
	}

	// Replay
	if _, ok := t.seen[n]; ok {
		return false
	}

	t.seen[n] = struct{}{}
	if t.highest.less(n) {
		t.highest = n
		floor := t.highest.minus(t.window)
		for v := range t.seen {
			if v.less(floor) {
				delete(t.seen, v)
			}
		}
	}
	return true
}

// Reset forgets all nonces, as for a freshly bound session.
func (t *NonceTracker) Reset() {
	t.highest = nonceValue{}
	t.seen = make(map[nonceValue]struct{})
}

// Highest returns the highest accepted nonce as 16 big-endian bytes.
func (t *NonceTracker) Highest() []byte {
	out := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(out[0:8], t.highest.hi)
	binary.BigEndian.PutUint64(out[8:16], t.highest.lo)
	return out
}

// Len returns the number of nonces currently remembered.
func (t *NonceTracker) Len() int {
	return len(t.seen)
}

// WindowSize returns the configured window.
func (t *NonceTracker) WindowSize() int {
	return int(t.window)
}
