package hdlc

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Decoder errors.
var (
	ErrFrameTooShort  = errors.New("hdlc: frame too short")
	ErrFrameTooLong   = errors.New("hdlc: frame exceeds maximum size")
	ErrInvalidEscape  = errors.New("hdlc: invalid escape sequence")
	ErrInvalidFCS     = errors.New("hdlc: frame check sequence mismatch")
	ErrInvalidAddress = errors.New("hdlc: invalid address")
)

type decoderState int

const (
	stateInterFrame decoderState = iota
	stateFrame
	stateEscape
	stateDiscard
)

// Decoder reassembles frames from a byte stream. Partial frames are kept
// across calls to Feed. A Decoder is not safe for concurrent use.
type Decoder struct {
	state   decoderState
	buf     []byte
	maxSize int
	err     error
}

// NewDecoder returns a decoder accepting frames with up to maxContentSize
// unescaped content bytes. Zero selects DefaultMaxContentSize.
func NewDecoder(maxContentSize int) *Decoder {
	if maxContentSize <= 0 {
		maxContentSize = DefaultMaxContentSize
	}
	return &Decoder{
		maxSize: maxContentSize,
		buf:     make([]byte, 0, 256),
	}
}

// Feed consumes p and returns every frame completed by it, along with an
// error for every malformed frame that was discarded. Bytes preceding the
// first flag are ignored. Empty frames between consecutive flags are ignored.
func (d *Decoder) Feed(p []byte) ([]Frame, []error) {
	var frames []Frame
	var errs []error

	for _, b := range p {
		if b == Flag {
			f, err := d.finish()
			if err != nil {
				errs = append(errs, err)
			} else if f != nil {
				frames = append(frames, *f)
			}
			d.state = stateFrame
			continue
		}

		switch d.state {
		case stateInterFrame, stateDiscard:
			// Wait for the next flag.
		case stateFrame:
			if b == Escape {
				d.state = stateEscape
				continue
			}
			d.push(b)
		case stateEscape:
			if b == Escape {
				d.fail(ErrInvalidEscape)
				continue
			}
			d.state = stateFrame
			d.push(b ^ EscapeXor)
		}
	}

	return frames, errs
}

// Reset drops any partially received frame.
func (d *Decoder) Reset() {
	d.state = stateInterFrame
	d.buf = d.buf[:0]
	d.err = nil
}

func (d *Decoder) push(b byte) {
	if len(d.buf) >= d.maxSize {
		d.fail(ErrFrameTooLong)
		return
	}
	d.buf = append(d.buf, b)
}

func (d *Decoder) fail(err error) {
	d.err = err
	d.state = stateDiscard
}

// finish closes the current frame at a flag byte.
func (d *Decoder) finish() (*Frame, error) {
	defer func() {
		d.buf = d.buf[:0]
		d.err = nil
	}()

	switch d.state {
	case stateInterFrame:
		return nil, nil
	case stateDiscard:
		return nil, d.err
	case stateEscape:
		return nil, ErrInvalidEscape
	}

	if len(d.buf) == 0 {
		return nil, nil
	}
	if len(d.buf) < MinContentSize {
		return nil, ErrFrameTooShort
	}

	body := d.buf[:len(d.buf)-fcsSize]
	want := binary.LittleEndian.Uint32(d.buf[len(d.buf)-fcsSize:])
	if crc32.ChecksumIEEE(body) != want {
		return nil, ErrInvalidFCS
	}

	address, n := decodeAddress(body)
	if n == 0 || n >= len(body) {
		return nil, ErrInvalidAddress
	}

	data := make([]byte, len(body)-n-1)
	copy(data, body[n+1:])

	return &Frame{
		Address: address,
		Control: body[n],
		Data:    data,
	}, nil
}
