package gateway

import (
	"context"
	"fmt"

	"github.com/pion/logging"
	"github.com/werkstattwaedi/machine-auth/pkg/rpc"
)

// Fully qualified service name and method names as declared by devices.
const (
	ServiceName = "maco.gateway.GatewayService"

	MethodForward    = "Forward"
	MethodPersistLog = "PersistLog"
	MethodPing       = "Ping"
)

// RPC identifiers derived from the names above.
var (
	ServiceID = rpc.ID(ServiceName)

	ForwardMethodID    = rpc.ID(MethodForward)
	PersistLogMethodID = rpc.ID(MethodPersistLog)
	PingMethodID       = rpc.ID(MethodPing)
)

// methodKey identifies a method within the dispatcher.
type methodKey struct {
	service uint32
	method  uint32
}

// methodFunc decodes a request payload, invokes the service and returns the
// encoded response payload.
type methodFunc func(ctx context.Context, deviceID uint64, payload []byte) ([]byte, error)

// Dispatcher routes decoded RPC requests to the Service by (service, method)
// identifier. It satisfies the connection handler interface of the
// transport package.
type Dispatcher struct {
	service *Service
	methods map[methodKey]methodFunc
	log     logging.LeveledLogger
}

// NewDispatcher creates a dispatcher serving the GatewayService methods.
func NewDispatcher(service *Service, loggerFactory logging.LoggerFactory) (*Dispatcher, error) {
	if service == nil {
		return nil, ErrNoService
	}

	d := &Dispatcher{
		service: service,
		methods: make(map[methodKey]methodFunc),
	}
	if loggerFactory != nil {
		d.log = loggerFactory.NewLogger("dispatch")
	}

	d.register(ForwardMethodID, d.forward)
	d.register(PersistLogMethodID, d.persistLog)
	d.register(PingMethodID, d.ping)

	return d, nil
}

func (d *Dispatcher) register(methodID uint32, fn methodFunc) {
	d.methods[methodKey{service: ServiceID, method: methodID}] = fn
}

// HandleRPC serves one request packet and returns the response payload.
// Unknown (service, method) pairs yield rpc.ErrUnimplemented; undecodable
// request messages yield rpc.ErrInvalidArgument.
func (d *Dispatcher) HandleRPC(ctx context.Context, deviceID uint64, req *rpc.Packet) ([]byte, error) {
	fn, ok := d.methods[methodKey{service: req.ServiceID, method: req.MethodID}]
	if !ok {
		if d.log != nil {
			d.log.Infof("unimplemented RPC: service=%08x method=%08x device=%016X",
				req.ServiceID, req.MethodID, deviceID)
		}
		return nil, rpc.ErrUnimplemented
	}
	return fn(ctx, deviceID, req.Payload)
}

func (d *Dispatcher) forward(ctx context.Context, deviceID uint64, payload []byte) ([]byte, error) {
	var req ForwardRequest
	if err := req.Unmarshal(payload); err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	return d.service.Forward(ctx, &req, deviceID).Marshal(), nil
}

func (d *Dispatcher) persistLog(_ context.Context, deviceID uint64, payload []byte) ([]byte, error) {
	var req LogRequest
	if err := req.Unmarshal(payload); err != nil {
		return nil, fmt.Errorf("persist log: %w", err)
	}
	return d.service.PersistLog(&req, deviceID).Marshal(), nil
}

func (d *Dispatcher) ping(_ context.Context, _ uint64, payload []byte) ([]byte, error) {
	var req PingRequest
	if err := req.Unmarshal(payload); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return d.service.Ping(&req).Marshal(), nil
}
