// Package hdlc implements the HDLC-like byte-stream framing used between
// devices and the gateway.
//
// Frames are unnumbered-information (UI) frames in the pw_hdlc format:
//
//	0x7E | Address (varint) | Control (0x03) | Data | FCS (CRC-32, LE) | 0x7E
//
// Everything between the flags is byte-stuffed: 0x7E and 0x7D are sent as
// 0x7D followed by the byte XOR 0x20. The address is a one-terminated,
// least-significant-group-first varint, so address 1 encodes as 0x03.
package hdlc

import (
	"encoding/binary"
	"hash/crc32"
)

// Framing constants.
const (
	// Flag delimits frames.
	Flag byte = 0x7E

	// Escape introduces a stuffed byte.
	Escape byte = 0x7D

	// EscapeXor is applied to stuffed bytes.
	EscapeXor byte = 0x20

	// ControlUI is the control byte of an unnumbered-information frame.
	ControlUI byte = 0x03

	// fcsSize is the size of the CRC-32 frame check sequence.
	fcsSize = 4

	// MinContentSize is the smallest valid unescaped content:
	// one address byte, the control byte and the FCS.
	MinContentSize = 1 + 1 + fcsSize

	// DefaultMaxContentSize bounds unescaped frame content when the decoder
	// is not configured otherwise.
	DefaultMaxContentSize = 1024
)

// Frame is a decoded HDLC frame.
type Frame struct {
	Address uint64
	Control byte
	Data    []byte
}

// Encode returns the complete wire encoding of a UI frame carrying data.
func Encode(address uint64, data []byte) []byte {
	content := make([]byte, 0, 10+1+len(data)+fcsSize)
	content = appendAddress(content, address)
	content = append(content, ControlUI)
	content = append(content, data...)

	var fcs [fcsSize]byte
	binary.LittleEndian.PutUint32(fcs[:], crc32.ChecksumIEEE(content))
	content = append(content, fcs[:]...)

	out := make([]byte, 0, len(content)+len(content)/8+2)
	out = append(out, Flag)
	for _, b := range content {
		if b == Flag || b == Escape {
			out = append(out, Escape, b^EscapeXor)
			continue
		}
		out = append(out, b)
	}
	return append(out, Flag)
}

// appendAddress appends the one-terminated varint encoding of address.
func appendAddress(b []byte, address uint64) []byte {
	for {
		group := byte(address&0x7F) << 1
		address >>= 7
		if address == 0 {
			return append(b, group|0x01)
		}
		b = append(b, group)
	}
}

// decodeAddress parses a one-terminated varint, returning the address and
// the number of bytes consumed, or 0 if the varint is not terminated.
func decodeAddress(b []byte) (uint64, int) {
	var address uint64
	for i, v := range b {
		if i >= 10 {
			return 0, 0
		}
		address |= uint64(v>>1) << (7 * uint(i))
		if v&0x01 != 0 {
			return address, i + 1
		}
	}
	return 0, 0
}
