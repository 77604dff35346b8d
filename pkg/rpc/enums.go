package rpc

import "fmt"

// PacketType identifies the role of an RPC packet.
type PacketType uint32

const (
	// PacketTypeRequest is a client request (starts a call).
	PacketTypeRequest PacketType = 0

	// PacketTypeResponse is the final server response of a call.
	PacketTypeResponse PacketType = 1

	// PacketTypeClientStream carries a client stream message.
	PacketTypeClientStream PacketType = 2

	// PacketTypeServerStream carries a server stream message.
	PacketTypeServerStream PacketType = 3

	// PacketTypeClientError reports a client-side error for a call.
	PacketTypeClientError PacketType = 4

	// PacketTypeServerError reports a server-side error for a call.
	PacketTypeServerError PacketType = 5

	// PacketTypeClientRequestCompletion ends a client stream.
	PacketTypeClientRequestCompletion PacketType = 8
)

// String returns a human-readable name for the packet type.
func (t PacketType) String() string {
	switch t {
	case PacketTypeRequest:
		return "REQUEST"
	case PacketTypeResponse:
		return "RESPONSE"
	case PacketTypeClientStream:
		return "CLIENT_STREAM"
	case PacketTypeServerStream:
		return "SERVER_STREAM"
	case PacketTypeClientError:
		return "CLIENT_ERROR"
	case PacketTypeServerError:
		return "SERVER_ERROR"
	case PacketTypeClientRequestCompletion:
		return "CLIENT_REQUEST_COMPLETION"
	default:
		return fmt.Sprintf("PacketType(%d)", uint32(t))
	}
}

// Status is a pw_status code carried in RPC packets.
type Status uint32

const (
	StatusOK                 Status = 0
	StatusCancelled          Status = 1
	StatusUnknown            Status = 2
	StatusInvalidArgument    Status = 3
	StatusDeadlineExceeded   Status = 4
	StatusNotFound           Status = 5
	StatusAlreadyExists      Status = 6
	StatusPermissionDenied   Status = 7
	StatusResourceExhausted  Status = 8
	StatusFailedPrecondition Status = 9
	StatusAborted            Status = 10
	StatusOutOfRange         Status = 11
	StatusUnimplemented      Status = 12
	StatusInternal           Status = 13
	StatusUnavailable        Status = 14
	StatusDataLoss           Status = 15
	StatusUnauthenticated    Status = 16
)

var statusNames = [...]string{
	"OK",
	"CANCELLED",
	"UNKNOWN",
	"INVALID_ARGUMENT",
	"DEADLINE_EXCEEDED",
	"NOT_FOUND",
	"ALREADY_EXISTS",
	"PERMISSION_DENIED",
	"RESOURCE_EXHAUSTED",
	"FAILED_PRECONDITION",
	"ABORTED",
	"OUT_OF_RANGE",
	"UNIMPLEMENTED",
	"INTERNAL",
	"UNAVAILABLE",
	"DATA_LOSS",
	"UNAUTHENTICATED",
}

// String returns the canonical pw_status name.
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint32(s))
}

// IsValid returns true if the status is a defined code.
func (s Status) IsValid() bool {
	return int(s) < len(statusNames)
}
