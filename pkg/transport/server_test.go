package transport

import (
	"bytes"
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
	"github.com/werkstattwaedi/machine-auth/pkg/frame"
	"github.com/werkstattwaedi/machine-auth/pkg/hdlc"
	"github.com/werkstattwaedi/machine-auth/pkg/rpc"
)

func startTestServer(t *testing.T, config ServerConfig) *Server {
	t.Helper()
	if config.ListenAddr == "" && config.Listener == nil {
		config.ListenAddr = "127.0.0.1:0"
	}
	if config.KeyStore == nil {
		config.KeyStore = newTestKeyStore(t)
	}
	if config.Handler == nil {
		config.Handler = echoHandler()
	}

	s, err := NewServer(config)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewServer(t *testing.T) {
	ks := newTestKeyStore(t)

	t.Run("valid", func(t *testing.T) {
		s, err := NewServer(ServerConfig{
			ListenAddr: "127.0.0.1:0",
			KeyStore:   ks,
			Handler:    echoHandler(),
		})
		if err != nil {
			t.Fatalf("NewServer() error = %v", err)
		}
		defer s.Stop()

		addr, ok := s.Addr().(*net.TCPAddr)
		if !ok || addr.Port == 0 {
			t.Errorf("Addr() = %v, want bound TCP address", s.Addr())
		}
	})

	t.Run("without handler", func(t *testing.T) {
		_, err := NewServer(ServerConfig{ListenAddr: "127.0.0.1:0", KeyStore: ks})
		if err != ErrNoHandler {
			t.Errorf("NewServer() error = %v, want %v", err, ErrNoHandler)
		}
	})

	t.Run("without key store", func(t *testing.T) {
		_, err := NewServer(ServerConfig{ListenAddr: "127.0.0.1:0", Handler: echoHandler()})
		if err != ErrNoKeyStore {
			t.Errorf("NewServer() error = %v, want %v", err, ErrNoKeyStore)
		}
	})

	t.Run("with injected listener", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Listen() error = %v", err)
		}

		s, err := NewServer(ServerConfig{Listener: listener, KeyStore: ks, Handler: echoHandler()})
		if err != nil {
			t.Fatalf("NewServer() error = %v", err)
		}
		defer s.Stop()

		if s.Addr() != listener.Addr() {
			t.Error("NewServer() did not use injected listener")
		}
	})
}

func TestServerStartStop(t *testing.T) {
	s := startTestServer(t, ServerConfig{})

	if err := s.Start(); err != ErrAlreadyStarted {
		t.Errorf("Start() second call error = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != ErrClosed {
		t.Errorf("Stop() second call error = %v, want %v", err, ErrClosed)
	}
	if err := s.Start(); err != ErrClosed {
		t.Errorf("Start() after Stop error = %v, want %v", err, ErrClosed)
	}
}

func TestServerServe(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()
	defer test.CheckRoutines(t)()

	s, err := NewServer(ServerConfig{
		ListenAddr: "127.0.0.1:0",
		KeyStore:   newTestKeyStore(t),
		Handler:    echoHandler(),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	conn := dial(t, s)
	defer conn.Close()
	waitFor(t, "connection", func() bool { return s.ConnectionCount() == 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	if s.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount() after Serve = %d", s.ConnectionCount())
	}
}

// A device sends an Echo request with nonce 1 and gets exactly one response
// under outbound nonce 1.
func TestScenarioRequestResponse(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()
	defer test.CheckRoutines(t)()

	ks := newTestKeyStore(t)
	s := startTestServer(t, ServerConfig{KeyStore: ks})
	defer s.Stop()

	conn := dial(t, s)
	defer conn.Close()
	dev := newTestDevice(t, conn, ks, 0x01)

	dev.send(1, echoRequest(7, []byte("hello")))
	dec, pkt := dev.receive()

	if dec.DeviceID != 0x01 {
		t.Errorf("response DeviceID = %x, want 1", dec.DeviceID)
	}
	if got := nonceValue(dec.Nonce); got != 1 {
		t.Errorf("response nonce = %d, want 1", got)
	}
	if pkt.Type != rpc.PacketTypeResponse || pkt.Status != rpc.StatusOK || pkt.CallID != 7 {
		t.Errorf("response = %s", pkt)
	}
	if pkt.ServiceID != echoServiceID || pkt.MethodID != echoMethodID || pkt.ChannelID != 1 {
		t.Errorf("response routing = %s", pkt)
	}
	if !bytes.Equal(pkt.Payload, []byte("hello")) {
		t.Errorf("response payload = %q, want %q", pkt.Payload, "hello")
	}

	infos := s.Connections()
	if len(infos) != 1 || infos[0].State != StateBound || infos[0].DeviceID != 0x01 {
		t.Fatalf("Connections() = %+v", infos)
	}
	waitFor(t, "response counter", func() bool {
		infos := s.Connections()
		return len(infos) == 1 && infos[0].Stats.ResponsesSent == 1 && infos[0].Stats.FramesReceived == 1
	})
}

// A verbatim replay is dropped without a response and the connection keeps
// serving fresh nonces.
func TestScenarioReplayDropped(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()
	defer test.CheckRoutines(t)()

	ks := newTestKeyStore(t)
	s := startTestServer(t, ServerConfig{KeyStore: ks})
	defer s.Stop()

	conn := dial(t, s)
	defer conn.Close()
	dev := newTestDevice(t, conn, ks, 0x01)

	first := dev.sealed(1, echoRequest(1, []byte("one")))
	dev.write(first)
	if _, pkt := dev.receive(); pkt.CallID != 1 {
		t.Fatalf("first response call = %d", pkt.CallID)
	}

	dev.write(first)
	dev.send(2, echoRequest(2, []byte("two")))

	// Responses are ordered, so the next one would be the replay's if it had
	// been answered.
	dec, pkt := dev.receive()
	if pkt.CallID != 2 || !bytes.Equal(pkt.Payload, []byte("two")) {
		t.Errorf("second response = %s %q, want call 2", pkt, pkt.Payload)
	}
	if got := nonceValue(dec.Nonce); got != 2 {
		t.Errorf("second response nonce = %d, want 2", got)
	}

	waitFor(t, "replay counter", func() bool {
		infos := s.Connections()
		return len(infos) == 1 && infos[0].Stats.Replays == 1
	})
}

// A frame for another device terminates a bound connection; frames after it
// are not answered.
func TestScenarioDeviceMismatch(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()
	defer test.CheckRoutines(t)()

	ks := newTestKeyStore(t)
	s := startTestServer(t, ServerConfig{KeyStore: ks})
	defer s.Stop()

	conn := dial(t, s)
	defer conn.Close()
	dev := newTestDevice(t, conn, ks, 0x01)
	other := newTestDevice(t, conn, ks, 0x02)

	dev.send(1, echoRequest(1, nil))
	dev.receive()

	// The foreign frame and a valid follow-up arrive in one write.
	b := append(other.sealed(1, echoRequest(2, nil)), dev.sealed(2, echoRequest(3, nil))...)
	dev.write(b)

	dev.expectClosed()
	waitFor(t, "connection removal", func() bool { return s.ConnectionCount() == 0 })
}

func TestUnimplementedMethod(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()
	defer test.CheckRoutines(t)()

	ks := newTestKeyStore(t)
	s := startTestServer(t, ServerConfig{KeyStore: ks})
	defer s.Stop()

	conn := dial(t, s)
	defer conn.Close()
	dev := newTestDevice(t, conn, ks, 0x10)

	dev.send(1, &rpc.Packet{
		Type:      rpc.PacketTypeRequest,
		ChannelID: 1,
		ServiceID: rpc.ID("maco.unknown.Service"),
		MethodID:  rpc.ID("Nope"),
		CallID:    9,
	})

	_, pkt := dev.receive()
	if pkt.Status != rpc.StatusUnimplemented || pkt.CallID != 9 || len(pkt.Payload) != 0 {
		t.Errorf("response = %s, want UNIMPLEMENTED for call 9", pkt)
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()
	defer test.CheckRoutines(t)()

	ks := newTestKeyStore(t)
	s := startTestServer(t, ServerConfig{KeyStore: ks})
	defer s.Stop()

	conn := dial(t, s)
	defer conn.Close()
	dev := newTestDevice(t, conn, ks, 0x01)

	// Short AEAD frame.
	dev.write(hdlc.Encode(1, make([]byte, frame.MinFrameSize-1)))

	// Bad HDLC checksum.
	bad := hdlc.Encode(1, []byte("abcdef"))
	bad[len(bad)-2] ^= 0x01
	dev.write(bad)

	// Tampered ciphertext.
	sealed, err := frame.EncryptFrame(0x01, frame.CounterNonce(1), echoRequest(1, nil).Encode(), dev.key)
	if err != nil {
		t.Fatalf("EncryptFrame() error = %v", err)
	}
	sealed[frame.HeaderSize] ^= 0xFF
	dev.write(hdlc.Encode(1, sealed))

	// Authentic frame that is not an RPC packet.
	garbage, err := frame.EncryptFrame(0x01, frame.CounterNonce(2), []byte{0xFF, 0xFF}, dev.key)
	if err != nil {
		t.Fatalf("EncryptFrame() error = %v", err)
	}
	dev.write(hdlc.Encode(1, garbage))

	// Response packets from the device are ignored.
	dev.send(3, &rpc.Packet{Type: rpc.PacketTypeResponse, ServiceID: echoServiceID, MethodID: echoMethodID, CallID: 4})

	// The connection still answers.
	dev.send(4, echoRequest(5, []byte("ok")))
	dec, pkt := dev.receive()
	if pkt.CallID != 5 {
		t.Errorf("response call = %d, want 5", pkt.CallID)
	}
	if got := nonceValue(dec.Nonce); got != 1 {
		t.Errorf("response nonce = %d, want 1", got)
	}
}

func TestHandlerErrorStatus(t *testing.T) {
	ks := newTestKeyStore(t)
	handler := HandlerFunc(func(ctx context.Context, deviceID uint64, req *rpc.Packet) ([]byte, error) {
		return []byte("ignored"), rpc.ErrInvalidArgument
	})
	s := startTestServer(t, ServerConfig{KeyStore: ks, Handler: handler})
	defer s.Stop()

	conn := dial(t, s)
	defer conn.Close()
	dev := newTestDevice(t, conn, ks, 0x01)

	dev.send(1, echoRequest(1, []byte("x")))
	_, pkt := dev.receive()
	if pkt.Status != rpc.StatusInvalidArgument || len(pkt.Payload) != 0 {
		t.Errorf("response = %s, want INVALID_ARGUMENT without payload", pkt)
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	ks := newTestKeyStore(t)
	handler := HandlerFunc(func(ctx context.Context, deviceID uint64, req *rpc.Packet) ([]byte, error) {
		if deviceID == 0xBAD {
			panic("handler bug")
		}
		return req.Payload, nil
	})
	s := startTestServer(t, ServerConfig{KeyStore: ks, Handler: handler})
	defer s.Stop()

	badConn := dial(t, s)
	defer badConn.Close()
	goodConn := dial(t, s)
	defer goodConn.Close()

	bad := newTestDevice(t, badConn, ks, 0xBAD)
	good := newTestDevice(t, goodConn, ks, 0x600D)

	bad.send(1, echoRequest(1, nil))
	bad.expectClosed()

	good.send(1, echoRequest(2, []byte("alive")))
	if _, pkt := good.receive(); !bytes.Equal(pkt.Payload, []byte("alive")) {
		t.Errorf("sibling response = %q", pkt.Payload)
	}

	// The listener still accepts.
	third := dial(t, s)
	defer third.Close()
	dev := newTestDevice(t, third, ks, 0x03)
	dev.send(1, echoRequest(3, nil))
	dev.receive()
}

func TestConnectionsIndependent(t *testing.T) {
	ks := newTestKeyStore(t)
	s := startTestServer(t, ServerConfig{KeyStore: ks})
	defer s.Stop()

	c1 := dial(t, s)
	defer c1.Close()
	c2 := dial(t, s)
	defer c2.Close()

	// Both connections serve the same device with their own nonce state.
	d1 := newTestDevice(t, c1, ks, 0x42)
	d2 := newTestDevice(t, c2, ks, 0x42)

	d1.send(1, echoRequest(1, []byte("a")))
	d2.send(1, echoRequest(1, []byte("b")))

	if _, pkt := d1.receive(); string(pkt.Payload) != "a" {
		t.Errorf("c1 payload = %q", pkt.Payload)
	}
	if _, pkt := d2.receive(); string(pkt.Payload) != "b" {
		t.Errorf("c2 payload = %q", pkt.Payload)
	}

	if n := s.ConnectionCount(); n != 2 {
		t.Errorf("ConnectionCount() = %d, want 2", n)
	}
}

func TestMaxConnections(t *testing.T) {
	ks := newTestKeyStore(t)
	s := startTestServer(t, ServerConfig{KeyStore: ks, MaxConnections: 1})
	defer s.Stop()

	client, server := net.Pipe()
	defer client.Close()
	if err := s.AddConnection(server); err != nil {
		t.Fatalf("AddConnection() error = %v", err)
	}

	client2, server2 := net.Pipe()
	defer client2.Close()
	if err := s.AddConnection(server2); err != ErrTooManyConnections {
		t.Errorf("AddConnection() over limit error = %v, want %v", err, ErrTooManyConnections)
	}

	// Closing the first connection frees the slot.
	client.Close()
	waitFor(t, "slot release", func() bool { return s.ConnectionCount() == 0 })

	client3, server3 := net.Pipe()
	defer client3.Close()
	if err := s.AddConnection(server3); err != nil {
		t.Errorf("AddConnection() after release error = %v", err)
	}
}

func TestAddConnectionPipe(t *testing.T) {
	ks := newTestKeyStore(t)
	s := startTestServer(t, ServerConfig{KeyStore: ks})
	defer s.Stop()

	client, server := net.Pipe()
	defer client.Close()
	if err := s.AddConnection(server); err != nil {
		t.Fatalf("AddConnection() error = %v", err)
	}

	dev := newTestDevice(t, client, ks, 0x77)

	// Deliver the frame one byte at a time.
	for _, b := range dev.sealed(1, echoRequest(1, []byte("slow"))) {
		dev.write([]byte{b})
	}

	if _, pkt := dev.receive(); string(pkt.Payload) != "slow" {
		t.Errorf("payload = %q, want %q", pkt.Payload, "slow")
	}
}

func TestAddConnectionAfterStop(t *testing.T) {
	s := startTestServer(t, ServerConfig{})
	s.Stop()

	client, server := net.Pipe()
	defer client.Close()
	if err := s.AddConnection(server); err != ErrClosed {
		t.Errorf("AddConnection() error = %v, want %v", err, ErrClosed)
	}
}

func TestStopCancelsInFlight(t *testing.T) {
	ks := newTestKeyStore(t)

	var cancelled atomic.Bool
	entered := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, deviceID uint64, req *rpc.Packet) ([]byte, error) {
		close(entered)
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	})
	s := startTestServer(t, ServerConfig{KeyStore: ks, Handler: handler})

	conn := dial(t, s)
	defer conn.Close()
	dev := newTestDevice(t, conn, ks, 0x01)
	dev.send(1, echoRequest(1, nil))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !cancelled.Load() {
		t.Error("handler context not cancelled by Stop")
	}
	dev.expectClosed()
}

func TestReadTimeout(t *testing.T) {
	s := startTestServer(t, ServerConfig{ReadTimeout: 300 * time.Millisecond})
	defer s.Stop()

	conn := dial(t, s)
	defer conn.Close()
	waitFor(t, "connection", func() bool { return s.ConnectionCount() == 1 })
	waitFor(t, "idle close", func() bool { return s.ConnectionCount() == 0 })
}

func TestXChaChaSuite(t *testing.T) {
	ks := newTestKeyStore(t)
	tr, err := frame.NewTransport(frame.SuiteXChaCha20Poly1305)
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	s := startTestServer(t, ServerConfig{KeyStore: ks, Transport: tr})
	defer s.Stop()

	conn := dial(t, s)
	defer conn.Close()

	key := ks.DeviceKey(0x05)
	sealed, err := tr.EncryptFrame(0x05, frame.CounterNonce(1), echoRequest(1, []byte("x")).Encode(), key)
	if err != nil {
		t.Fatalf("EncryptFrame() error = %v", err)
	}
	conn.Write(hdlc.Encode(1, sealed))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	dec := hdlc.NewDecoder(0)
	var frames []hdlc.Frame
	for len(frames) == 0 {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		frames, _ = dec.Feed(buf[:n])
	}

	resp, err := tr.DecryptFrame(frames[0].Data, key)
	if err != nil {
		t.Fatalf("DecryptFrame() error = %v", err)
	}
	pkt, err := rpc.Decode(resp.Payload)
	if err != nil {
		t.Fatalf("rpc.Decode() error = %v", err)
	}
	if string(pkt.Payload) != "x" {
		t.Errorf("payload = %q", pkt.Payload)
	}
}

func TestConnStateString(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
		valid bool
	}{
		{StateUnbound, "Unbound", true},
		{StateBound, "Bound", true},
		{StateClosed, "Closed", true},
		{ConnState(9), "Unknown", false},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if got := tt.state.IsValid(); got != tt.valid {
			t.Errorf("%v.IsValid() = %v, want %v", tt.state, got, tt.valid)
		}
	}
}
