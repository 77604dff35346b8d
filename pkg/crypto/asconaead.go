// ASCON-AEAD128 implementation (NIST SP 800-232).
// Parameters:
//   - Key length: 128 bits (16 bytes)
//   - Nonce length: 128 bits (16 bytes)
//   - Tag length: 128 bits (16 bytes)
//   - Rate: 128 bits, p12 for initialization/finalization, p8 for data

package crypto

import (
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// ASCON-AEAD128 constants.
const (
	// AsconKeySize is the ASCON-AEAD128 key size in bytes.
	AsconKeySize = 16

	// AsconNonceSize is the ASCON-AEAD128 nonce size in bytes.
	AsconNonceSize = 16

	// AsconTagSize is the ASCON-AEAD128 tag size in bytes.
	AsconTagSize = 16

	asconAEADRate  = 16
	asconAEADIV    = 0x00001000808c0001
	asconDomainSep = 0x80 << 56
)

// Errors
var (
	ErrAsconInvalidKeySize     = errors.New("ascon: invalid key size, must be 16 bytes")
	ErrAsconInvalidNonceSize   = errors.New("ascon: invalid nonce size, must be 16 bytes")
	ErrAsconCiphertextTooShort = errors.New("ascon: ciphertext too short")
	ErrAsconAuthFailed         = errors.New("ascon: message authentication failed")
)

// AsconAEAD is an ASCON-AEAD128 instance bound to a key.
// It implements crypto/cipher.AEAD.
type AsconAEAD struct {
	k0, k1 uint64
}

var _ cipher.AEAD = (*AsconAEAD)(nil)

// NewAsconAEAD creates an ASCON-AEAD128 cipher. The key must be 16 bytes.
func NewAsconAEAD(key []byte) (*AsconAEAD, error) {
	if len(key) != AsconKeySize {
		return nil, ErrAsconInvalidKeySize
	}
	return &AsconAEAD{
		k0: binary.LittleEndian.Uint64(key[0:8]),
		k1: binary.LittleEndian.Uint64(key[8:16]),
	}, nil
}

// NonceSize returns the nonce size (16 bytes).
func (a *AsconAEAD) NonceSize() int { return AsconNonceSize }

// Overhead returns the tag size (16 bytes).
func (a *AsconAEAD) Overhead() int { return AsconTagSize }

// Seal encrypts and authenticates plaintext, authenticates additionalData and
// appends ciphertext||tag to dst. It panics on a wrong nonce length, matching
// the crypto/cipher.AEAD contract.
func (a *AsconAEAD) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	if len(nonce) != AsconNonceSize {
		panic(ErrAsconInvalidNonceSize)
	}

	ret, out := sliceForAppend(dst, len(plaintext)+AsconTagSize)
	ct, tag := out[:len(plaintext)], out[len(plaintext):]

	s := a.initState(nonce)
	s.absorbAD(additionalData)

	m := plaintext
	c := ct
	for len(m) >= asconAEADRate {
		s[0] ^= binary.LittleEndian.Uint64(m[0:8])
		s[1] ^= binary.LittleEndian.Uint64(m[8:16])
		binary.LittleEndian.PutUint64(c[0:8], s[0])
		binary.LittleEndian.PutUint64(c[8:16], s[1])
		s.permute(8)
		m, c = m[asconAEADRate:], c[asconAEADRate:]
	}

	px := &s[0]
	if len(m) >= 8 {
		s[0] ^= binary.LittleEndian.Uint64(m[0:8])
		binary.LittleEndian.PutUint64(c[0:8], s[0])
		px = &s[1]
		m, c = m[8:], c[8:]
	}
	*px ^= asconPad(len(m))
	if len(m) > 0 {
		*px ^= loadPartial(m)
		storePartial(c[:len(m)], *px)
	}

	a.finalize(&s, tag)
	return ret
}

// Open verifies and decrypts ciphertext||tag and appends the plaintext to dst.
// On authentication failure no plaintext is returned and the written region of
// dst is zeroed.
func (a *AsconAEAD) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != AsconNonceSize {
		return nil, ErrAsconInvalidNonceSize
	}
	if len(ciphertext) < AsconTagSize {
		return nil, ErrAsconCiphertextTooShort
	}

	ctLen := len(ciphertext) - AsconTagSize
	expectedTag := ciphertext[ctLen:]

	ret, out := sliceForAppend(dst, ctLen)

	s := a.initState(nonce)
	s.absorbAD(additionalData)

	c := ciphertext[:ctLen]
	m := out
	for len(c) >= asconAEADRate {
		c0 := binary.LittleEndian.Uint64(c[0:8])
		c1 := binary.LittleEndian.Uint64(c[8:16])
		binary.LittleEndian.PutUint64(m[0:8], s[0]^c0)
		binary.LittleEndian.PutUint64(m[8:16], s[1]^c1)
		s[0], s[1] = c0, c1
		s.permute(8)
		c, m = c[asconAEADRate:], m[asconAEADRate:]
	}

	px := &s[0]
	if len(c) >= 8 {
		cx := binary.LittleEndian.Uint64(c[0:8])
		binary.LittleEndian.PutUint64(m[0:8], s[0]^cx)
		s[0] = cx
		px = &s[1]
		c, m = c[8:], m[8:]
	}
	*px ^= asconPad(len(c))
	if len(c) > 0 {
		cx := loadPartial(c)
		storePartial(m[:len(c)], *px^cx)
		*px = clearLow(*px, len(c)) ^ cx
	}

	var tag [AsconTagSize]byte
	a.finalize(&s, tag[:])

	if subtle.ConstantTimeCompare(tag[:], expectedTag) != 1 {
		for i := range out {
			out[i] = 0
		}
		return nil, ErrAsconAuthFailed
	}
	return ret, nil
}

func (a *AsconAEAD) initState(nonce []byte) asconState {
	s := asconState{
		asconAEADIV,
		a.k0,
		a.k1,
		binary.LittleEndian.Uint64(nonce[0:8]),
		binary.LittleEndian.Uint64(nonce[8:16]),
	}
	s.permute(12)
	s[3] ^= a.k0
	s[4] ^= a.k1
	return s
}

func (s *asconState) absorbAD(ad []byte) {
	if len(ad) > 0 {
		for len(ad) >= asconAEADRate {
			s[0] ^= binary.LittleEndian.Uint64(ad[0:8])
			s[1] ^= binary.LittleEndian.Uint64(ad[8:16])
			s.permute(8)
			ad = ad[asconAEADRate:]
		}
		px := &s[0]
		if len(ad) >= 8 {
			s[0] ^= binary.LittleEndian.Uint64(ad[0:8])
			px = &s[1]
			ad = ad[8:]
		}
		*px ^= asconPad(len(ad))
		if len(ad) > 0 {
			*px ^= loadPartial(ad)
		}
		s.permute(8)
	}
	s[4] ^= asconDomainSep
}

func (a *AsconAEAD) finalize(s *asconState, tag []byte) {
	s[2] ^= a.k0
	s[3] ^= a.k1
	s.permute(12)
	s[3] ^= a.k0
	s[4] ^= a.k1
	binary.LittleEndian.PutUint64(tag[0:8], s[3])
	binary.LittleEndian.PutUint64(tag[8:16], s[4])
}

// sliceForAppend extends in by n bytes, returning the whole slice and the
// newly added tail.
func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}
