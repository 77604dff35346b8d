package transport

import (
	"context"

	"github.com/werkstattwaedi/machine-auth/pkg/rpc"
)

// Handler serves decoded RPC requests for a connection.
//
// The returned payload is sent back with status OK. A non-nil error is mapped
// to a status with rpc.StatusFromError and the response carries no payload.
// ctx is cancelled when the connection closes.
type Handler interface {
	HandleRPC(ctx context.Context, deviceID uint64, req *rpc.Packet) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, deviceID uint64, req *rpc.Packet) ([]byte, error)

// HandleRPC calls f.
func (f HandlerFunc) HandleRPC(ctx context.Context, deviceID uint64, req *rpc.Packet) ([]byte, error) {
	return f(ctx, deviceID, req)
}

// KeyStore resolves the symmetric key of a device.
type KeyStore interface {
	DeviceKey(deviceID uint64) []byte
}
