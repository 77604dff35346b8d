// Package rpc implements the pw_rpc packet envelope exchanged with devices.
//
// Packets are protobuf messages (pw.rpc.internal.RpcPacket):
//
//	type       = 1 (varint)
//	channel_id = 2 (varint)
//	service_id = 3 (fixed32)
//	method_id  = 4 (fixed32)
//	payload    = 5 (bytes)
//	status     = 6 (varint)
//	call_id    = 7 (varint)
//
// Service and method identifiers are 65599 hashes of their names; see ID.
package rpc

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Packet field numbers.
const (
	fieldType      protowire.Number = 1
	fieldChannelID protowire.Number = 2
	fieldServiceID protowire.Number = 3
	fieldMethodID  protowire.Number = 4
	fieldPayload   protowire.Number = 5
	fieldStatus    protowire.Number = 6
	fieldCallID    protowire.Number = 7
)

// Packet is a decoded RPC packet. Payload is opaque to this package.
type Packet struct {
	Type      PacketType
	ChannelID uint32
	ServiceID uint32
	MethodID  uint32
	CallID    uint32
	Status    Status
	Payload   []byte
}

// IsRequest returns true for packets that start a call.
func (p *Packet) IsRequest() bool {
	return p.Type == PacketTypeRequest
}

// String returns a short description suitable for logs.
func (p *Packet) String() string {
	return fmt.Sprintf("%s channel=%d service=%08x method=%08x call=%d status=%s payload=%dB",
		p.Type, p.ChannelID, p.ServiceID, p.MethodID, p.CallID, p.Status, len(p.Payload))
}

// NewResponse builds the response packet for a request.
func NewResponse(req *Packet, status Status, payload []byte) *Packet {
	return &Packet{
		Type:      PacketTypeResponse,
		ChannelID: req.ChannelID,
		ServiceID: req.ServiceID,
		MethodID:  req.MethodID,
		CallID:    req.CallID,
		Status:    status,
		Payload:   payload,
	}
}

// Encode returns the protobuf encoding of the packet. Zero-valued scalar
// fields are omitted, as in proto3.
func (p *Packet) Encode() []byte {
	b := make([]byte, 0, 24+len(p.Payload))

	if p.Type != 0 {
		b = protowire.AppendTag(b, fieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Type))
	}
	if p.ChannelID != 0 {
		b = protowire.AppendTag(b, fieldChannelID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.ChannelID))
	}
	if p.ServiceID != 0 {
		b = protowire.AppendTag(b, fieldServiceID, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.ServiceID)
	}
	if p.MethodID != 0 {
		b = protowire.AppendTag(b, fieldMethodID, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.MethodID)
	}
	if len(p.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Payload)
	}
	if p.Status != 0 {
		b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Status))
	}
	if p.CallID != 0 {
		b = protowire.AppendTag(b, fieldCallID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.CallID))
	}

	return b
}

// Decode parses a protobuf-encoded packet. Unknown fields are skipped.
func Decode(data []byte) (*Packet, error) {
	p := &Packet{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fieldError("type", m)
			}
			p.Type = PacketType(v)
			n = m
		case num == fieldChannelID && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fieldError("channel_id", m)
			}
			p.ChannelID = uint32(v)
			n = m
		case num == fieldServiceID && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(data)
			if m < 0 {
				return nil, fieldError("service_id", m)
			}
			p.ServiceID = v
			n = m
		case num == fieldMethodID && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(data)
			if m < 0 {
				return nil, fieldError("method_id", m)
			}
			p.MethodID = v
			n = m
		case num == fieldPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fieldError("payload", m)
			}
			p.Payload = append([]byte(nil), v...)
			n = m
		case num == fieldStatus && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fieldError("status", m)
			}
			p.Status = Status(v)
			n = m
		case num == fieldCallID && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fieldError("call_id", m)
			}
			p.CallID = uint32(v)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fieldError(fmt.Sprintf("field %d", num), n)
			}
		}
		data = data[n:]
	}

	return p, nil
}

func fieldError(name string, n int) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedPacket, name, protowire.ParseError(n))
}
