package crypto

import (
	"encoding/binary"
	"hash"
)

// ASCON-Hash256 constants (NIST SP 800-232).
const (
	// AsconHashSize is the ASCON-Hash256 digest length in bytes.
	AsconHashSize = 32

	// AsconHashBlockSize is the ASCON-Hash256 rate in bytes.
	AsconHashBlockSize = 8

	asconHashIV = 0x0000080100cc0002
)

// AsconHash256 computes the ASCON-Hash256 digest of a message.
func AsconHash256(message []byte) [AsconHashSize]byte {
	h := NewAsconHash256()
	h.Write(message)
	var out [AsconHashSize]byte
	h.Sum(out[:0])
	return out
}

// asconHash is a streaming ASCON-Hash256 state.
type asconHash struct {
	s   asconState
	buf [AsconHashBlockSize]byte
	n   int
}

// NewAsconHash256 returns a hash.Hash computing ASCON-Hash256 incrementally.
func NewAsconHash256() hash.Hash {
	h := &asconHash{}
	h.Reset()
	return h
}

func (h *asconHash) Reset() {
	h.s = asconState{asconHashIV}
	h.s.permute(12)
	h.n = 0
}

func (h *asconHash) Size() int      { return AsconHashSize }
func (h *asconHash) BlockSize() int { return AsconHashBlockSize }

func (h *asconHash) Write(p []byte) (int, error) {
	written := len(p)

	if h.n > 0 {
		k := copy(h.buf[h.n:], p)
		h.n += k
		p = p[k:]
		if h.n < AsconHashBlockSize {
			return written, nil
		}
		h.s[0] ^= binary.LittleEndian.Uint64(h.buf[:])
		h.s.permute(12)
		h.n = 0
	}

	for len(p) >= AsconHashBlockSize {
		h.s[0] ^= binary.LittleEndian.Uint64(p)
		h.s.permute(12)
		p = p[AsconHashBlockSize:]
	}

	h.n = copy(h.buf[:], p)
	return written, nil
}

// Sum appends the digest to b without changing the running state.
func (h *asconHash) Sum(b []byte) []byte {
	s := h.s
	s[0] ^= loadPartial(h.buf[:h.n]) ^ asconPad(h.n)
	s.permute(12)

	var out [AsconHashSize]byte
	for i := 0; i < AsconHashSize; i += AsconHashBlockSize {
		if i > 0 {
			s.permute(12)
		}
		binary.LittleEndian.PutUint64(out[i:], s[0])
	}
	return append(b, out[:]...)
}
