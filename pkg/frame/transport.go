// Package frame implements the authenticated frame layer between devices and
// the gateway, and the replay window applied to inbound frame nonces.
//
// # Frame Layout
//
//	+-----------+-------------+----------------+----------+
//	| DeviceID  | Nonce       | Ciphertext     | Tag      |
//	| 8 B (BE)  | 16 B (BE)   | N bytes        | 16 B     |
//	+-----------+-------------+----------------+----------+
//
// The device identifier travels in the clear so the receiver can select the
// device key. It is bound to the ciphertext as associated data, so a frame
// whose identifier was altered fails authentication.
package frame

import (
	"encoding/binary"
)

// Decrypted is an authenticated, decrypted frame.
type Decrypted struct {
	DeviceID uint64
	Nonce    [NonceSize]byte
	Payload  []byte
}

// Transport seals and opens frames with a fixed cipher suite.
// A Transport holds no per-device state and is safe for concurrent use.
type Transport struct {
	suite Suite
}

// NewTransport returns a Transport for the given suite.
func NewTransport(suite Suite) (*Transport, error) {
	if !suite.IsValid() {
		return nil, ErrUnknownSuite
	}
	return &Transport{suite: suite}, nil
}

// DefaultTransport uses ASCON-AEAD128.
var DefaultTransport = &Transport{suite: SuiteAscon128}

// Suite returns the transport's cipher suite.
func (t *Transport) Suite() Suite {
	return t.suite
}

// EncryptFrame seals payload for deviceID under key with the given 16-byte
// nonce and returns the complete frame.
func (t *Transport) EncryptFrame(deviceID uint64, nonce, payload, key []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	aead, aeadNonce, err := t.suite.newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}

	out := make([]byte, HeaderSize, HeaderSize+len(payload)+TagSize)
	binary.BigEndian.PutUint64(out[:DeviceIDSize], deviceID)
	copy(out[DeviceIDSize:HeaderSize], nonce)

	return aead.Seal(out, aeadNonce, payload, out[:DeviceIDSize]), nil
}

// DecryptFrame authenticates and decrypts a complete frame.
// Any authentication problem is reported as ErrAuthenticationFailure and no
// plaintext is returned.
func (t *Transport) DecryptFrame(frame, key []byte) (*Decrypted, error) {
	if len(frame) < MinFrameSize {
		return nil, ErrFrameTooShort
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	ad := frame[:DeviceIDSize]
	nonce := frame[DeviceIDSize:HeaderSize]

	aead, aeadNonce, err := t.suite.newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}

	payload, err := aead.Open(nil, aeadNonce, frame[HeaderSize:], ad)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}

	d := &Decrypted{
		DeviceID: binary.BigEndian.Uint64(ad),
		Payload:  payload,
	}
	copy(d.Nonce[:], nonce)
	return d, nil
}

// EncryptFrame seals a frame with the default ASCON-AEAD128 suite.
func EncryptFrame(deviceID uint64, nonce, payload, key []byte) ([]byte, error) {
	return DefaultTransport.EncryptFrame(deviceID, nonce, payload, key)
}

// DecryptFrame opens a frame with the default ASCON-AEAD128 suite.
func DecryptFrame(frame, key []byte) (*Decrypted, error) {
	return DefaultTransport.DecryptFrame(frame, key)
}

// ParseDeviceID reads the cleartext device identifier without authenticating
// the frame. The result is untrusted until DecryptFrame succeeds.
func ParseDeviceID(frame []byte) (uint64, bool) {
	if len(frame) < DeviceIDSize {
		return 0, false
	}
	return binary.BigEndian.Uint64(frame[:DeviceIDSize]), true
}

// CounterNonce serializes a counter as a 16-byte big-endian nonce.
func CounterNonce(counter uint64) []byte {
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(nonce[8:], counter)
	return nonce
}
