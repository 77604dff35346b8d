package gateway

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/werkstattwaedi/machine-auth/pkg/backend"
	"github.com/werkstattwaedi/machine-auth/pkg/rpc"
)

func newTestDispatcher(t *testing.T, fwd Forwarder) (*Dispatcher, *Service) {
	t.Helper()
	s, err := NewService(Config{
		Forwarder: fwd,
		Now:       func() time.Time { return time.UnixMilli(5000) },
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	d, err := NewDispatcher(s, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d, s
}

func request(method uint32, payload []byte) *rpc.Packet {
	return &rpc.Packet{
		Type:      rpc.PacketTypeRequest,
		ChannelID: 1,
		ServiceID: ServiceID,
		MethodID:  method,
		CallID:    1,
		Payload:   payload,
	}
}

func TestNewDispatcher(t *testing.T) {
	if _, err := NewDispatcher(nil, nil); err != ErrNoService {
		t.Errorf("NewDispatcher(nil) error = %v, want %v", err, ErrNoService)
	}
}

func TestDispatchPing(t *testing.T) {
	d, _ := newTestDispatcher(t, &mockForwarder{})

	out, err := d.HandleRPC(context.Background(), 1, request(PingMethodID, (&PingRequest{ClientTimestampMs: 1234}).Marshal()))
	if err != nil {
		t.Fatalf("HandleRPC() error = %v", err)
	}

	var resp PingResponse
	if err := resp.Unmarshal(out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if resp.ClientTimestampMs != 1234 || resp.GatewayTimestampMs != 5000 {
		t.Errorf("PingResponse = %+v", resp)
	}
}

func TestDispatchForward(t *testing.T) {
	fwd := &mockForwarder{result: backend.Result{Success: true, Payload: []byte{1, 2, 3}, HTTPStatus: 200}}
	d, _ := newTestDispatcher(t, fwd)

	req := &ForwardRequest{Endpoint: "/api/completeAuthentication", Payload: []byte{9}, RequestID: 11}
	out, err := d.HandleRPC(context.Background(), 0x55, request(ForwardMethodID, req.Marshal()))
	if err != nil {
		t.Fatalf("HandleRPC() error = %v", err)
	}

	var resp ForwardResponse
	if err := resp.Unmarshal(out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !resp.Success || !bytes.Equal(resp.Payload, []byte{1, 2, 3}) || resp.HTTPStatus != 200 || resp.RequestID != 11 {
		t.Errorf("ForwardResponse = %+v", resp)
	}
	if fwd.deviceID != 0x55 || fwd.endpoint != "/api/completeAuthentication" {
		t.Errorf("forwarder saw device=%x endpoint=%q", fwd.deviceID, fwd.endpoint)
	}
}

func TestDispatchPersistLog(t *testing.T) {
	d, s := newTestDispatcher(t, &mockForwarder{})

	req := &LogRequest{TimestampMs: 99, Level: LogLevelError, Module: "app", Message: "crash", Data: `{"a":1}`}
	out, err := d.HandleRPC(context.Background(), 2, request(PersistLogMethodID, req.Marshal()))
	if err != nil {
		t.Fatalf("HandleRPC() error = %v", err)
	}

	var resp LogResponse
	if err := resp.Unmarshal(out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !resp.Success || resp.PendingCount != 1 {
		t.Errorf("LogResponse = %+v", resp)
	}

	logs := s.PendingLogs()
	if len(logs) != 1 || logs[0].Data != `{"a":1}` || logs[0].Level != LogLevelError || logs[0].DeviceID != 2 {
		t.Errorf("PendingLogs() = %+v", logs)
	}
}

func TestDispatchUnimplemented(t *testing.T) {
	d, _ := newTestDispatcher(t, &mockForwarder{})

	tests := []struct {
		name    string
		service uint32
		method  uint32
	}{
		{"unknown method", ServiceID, rpc.ID("Reboot")},
		{"unknown service", rpc.ID("maco.other.Service"), PingMethodID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &rpc.Packet{Type: rpc.PacketTypeRequest, ServiceID: tt.service, MethodID: tt.method}
			_, err := d.HandleRPC(context.Background(), 1, req)
			if !errors.Is(err, rpc.ErrUnimplemented) {
				t.Errorf("HandleRPC() error = %v, want %v", err, rpc.ErrUnimplemented)
			}
		})
	}
}

func TestDispatchInvalidPayload(t *testing.T) {
	d, _ := newTestDispatcher(t, &mockForwarder{})

	_, err := d.HandleRPC(context.Background(), 1, request(PingMethodID, []byte{0x08}))
	if !errors.Is(err, rpc.ErrInvalidArgument) {
		t.Errorf("HandleRPC() error = %v, want %v", err, rpc.ErrInvalidArgument)
	}
	if rpc.StatusFromError(err) != rpc.StatusInvalidArgument {
		t.Errorf("status = %v", rpc.StatusFromError(err))
	}
}

func TestMethodIDsDistinct(t *testing.T) {
	ids := map[uint32]string{}
	for _, name := range []string{MethodForward, MethodPersistLog, MethodPing} {
		id := rpc.ID(name)
		if other, dup := ids[id]; dup {
			t.Errorf("method ID collision: %s and %s", name, other)
		}
		ids[id] = name
	}
	if ServiceID != rpc.ID("maco.gateway.GatewayService") {
		t.Error("ServiceID mismatch")
	}
}
