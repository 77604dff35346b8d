package gateway

import (
	"fmt"

	"github.com/werkstattwaedi/machine-auth/pkg/rpc"
	"google.golang.org/protobuf/encoding/protowire"
)

// LogLevel is the severity of a device log entry.
type LogLevel uint32

const (
	LogLevelUnspecified LogLevel = 0
	LogLevelDebug       LogLevel = 1
	LogLevelInfo        LogLevel = 2
	LogLevelWarn        LogLevel = 3
	LogLevelError       LogLevel = 4
)

// Letter returns the single-letter tag used in gateway logs.
func (l LogLevel) Letter() string {
	switch l {
	case LogLevelDebug:
		return "D"
	case LogLevelInfo:
		return "I"
	case LogLevelWarn:
		return "W"
	case LogLevelError:
		return "E"
	default:
		return "?"
	}
}

// ForwardRequest asks the gateway to relay a payload to a backend endpoint.
type ForwardRequest struct {
	Endpoint  string // field 1
	Payload   []byte // field 2
	RequestID uint32 // field 3
}

// ForwardResponse carries the backend outcome back to the device.
type ForwardResponse struct {
	Success    bool   // field 1
	Payload    []byte // field 2
	HTTPStatus uint32 // field 3
	Error      string // field 4
	RequestID  uint32 // field 5
}

// LogRequest is a device log entry to be kept by the gateway.
type LogRequest struct {
	TimestampMs uint64   // field 1
	Level       LogLevel // field 2
	Module      string   // field 3
	Message     string   // field 4
	Data        string   // field 5
}

// LogResponse acknowledges a LogRequest.
type LogResponse struct {
	Success      bool   // field 1
	PendingCount uint32 // field 2
}

// PingRequest carries the device clock.
type PingRequest struct {
	ClientTimestampMs uint64 // field 1
}

// PingResponse echoes the device clock next to the gateway clock.
type PingResponse struct {
	GatewayTimestampMs uint64 // field 1
	ClientTimestampMs  uint64 // field 2
}

// Marshal encodes the request.
func (m *ForwardRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Endpoint)
	b = appendBytes(b, 2, m.Payload)
	b = appendVarint(b, 3, uint64(m.RequestID))
	return b
}

// Unmarshal decodes the request.
func (m *ForwardRequest) Unmarshal(data []byte) error {
	return consumeFields(data, func(num protowire.Number, f field) {
		switch num {
		case 1:
			m.Endpoint = string(f.bytes)
		case 2:
			m.Payload = append([]byte(nil), f.bytes...)
		case 3:
			m.RequestID = uint32(f.varint)
		}
	})
}

// Marshal encodes the response.
func (m *ForwardResponse) Marshal() []byte {
	var b []byte
	b = appendBool(b, 1, m.Success)
	b = appendBytes(b, 2, m.Payload)
	b = appendVarint(b, 3, uint64(m.HTTPStatus))
	b = appendString(b, 4, m.Error)
	b = appendVarint(b, 5, uint64(m.RequestID))
	return b
}

// Unmarshal decodes the response.
func (m *ForwardResponse) Unmarshal(data []byte) error {
	return consumeFields(data, func(num protowire.Number, f field) {
		switch num {
		case 1:
			m.Success = f.varint != 0
		case 2:
			m.Payload = append([]byte(nil), f.bytes...)
		case 3:
			m.HTTPStatus = uint32(f.varint)
		case 4:
			m.Error = string(f.bytes)
		case 5:
			m.RequestID = uint32(f.varint)
		}
	})
}

// Marshal encodes the request.
func (m *LogRequest) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, m.TimestampMs)
	b = appendVarint(b, 2, uint64(m.Level))
	b = appendString(b, 3, m.Module)
	b = appendString(b, 4, m.Message)
	b = appendString(b, 5, m.Data)
	return b
}

// Unmarshal decodes the request.
func (m *LogRequest) Unmarshal(data []byte) error {
	return consumeFields(data, func(num protowire.Number, f field) {
		switch num {
		case 1:
			m.TimestampMs = f.varint
		case 2:
			m.Level = LogLevel(f.varint)
		case 3:
			m.Module = string(f.bytes)
		case 4:
			m.Message = string(f.bytes)
		case 5:
			m.Data = string(f.bytes)
		}
	})
}

// Marshal encodes the response.
func (m *LogResponse) Marshal() []byte {
	var b []byte
	b = appendBool(b, 1, m.Success)
	b = appendVarint(b, 2, uint64(m.PendingCount))
	return b
}

// Unmarshal decodes the response.
func (m *LogResponse) Unmarshal(data []byte) error {
	return consumeFields(data, func(num protowire.Number, f field) {
		switch num {
		case 1:
			m.Success = f.varint != 0
		case 2:
			m.PendingCount = uint32(f.varint)
		}
	})
}

// Marshal encodes the request.
func (m *PingRequest) Marshal() []byte {
	return appendVarint(nil, 1, m.ClientTimestampMs)
}

// Unmarshal decodes the request.
func (m *PingRequest) Unmarshal(data []byte) error {
	return consumeFields(data, func(num protowire.Number, f field) {
		if num == 1 {
			m.ClientTimestampMs = f.varint
		}
	})
}

// Marshal encodes the response.
func (m *PingResponse) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, m.GatewayTimestampMs)
	b = appendVarint(b, 2, m.ClientTimestampMs)
	return b
}

// Unmarshal decodes the response.
func (m *PingResponse) Unmarshal(data []byte) error {
	return consumeFields(data, func(num protowire.Number, f field) {
		switch num {
		case 1:
			m.GatewayTimestampMs = f.varint
		case 2:
			m.ClientTimestampMs = f.varint
		}
	})
}

// field is a decoded scalar or length-delimited field value.
type field struct {
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// consumeFields walks a protobuf message and calls fn for every varint and
// length-delimited field. Fixed-width fields are skipped.
func consumeFields(data []byte, fn func(protowire.Number, field)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", rpc.ErrInvalidArgument, protowire.ParseError(n))
		}
		data = data[n:]

		var f field
		f.typ = typ
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", rpc.ErrInvalidArgument, num, protowire.ParseError(n))
		}
		data = data[n:]

		if typ == protowire.VarintType || typ == protowire.BytesType {
			fn(num, f)
		}
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}
