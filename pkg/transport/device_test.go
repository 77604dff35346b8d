package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/werkstattwaedi/machine-auth/pkg/frame"
	"github.com/werkstattwaedi/machine-auth/pkg/hdlc"
	"github.com/werkstattwaedi/machine-auth/pkg/keystore"
	"github.com/werkstattwaedi/machine-auth/pkg/rpc"
)

var (
	echoServiceID = rpc.ID("maco.test.EchoService")
	echoMethodID  = rpc.ID("Echo")
)

// echoHandler answers Echo with the request payload and everything else
// with UNIMPLEMENTED.
func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, deviceID uint64, req *rpc.Packet) ([]byte, error) {
		if req.ServiceID == echoServiceID && req.MethodID == echoMethodID {
			return req.Payload, nil
		}
		return nil, rpc.ErrUnimplemented
	})
}

func testMasterKey() []byte {
	key := make([]byte, keystore.MasterKeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func newTestKeyStore(t *testing.T) *keystore.KeyStore {
	t.Helper()
	ks, err := keystore.New(testMasterKey())
	if err != nil {
		t.Fatalf("keystore.New() error = %v", err)
	}
	return ks
}

// testDevice speaks the device side of the protocol over a net.Conn.
type testDevice struct {
	t       *testing.T
	conn    net.Conn
	id      uint64
	key     []byte
	decoder *hdlc.Decoder
	pending []hdlc.Frame
}

func newTestDevice(t *testing.T, conn net.Conn, ks *keystore.KeyStore, id uint64) *testDevice {
	return &testDevice{
		t:       t,
		conn:    conn,
		id:      id,
		key:     ks.DeviceKey(id),
		decoder: hdlc.NewDecoder(0),
	}
}

// sealed returns the HDLC-wrapped frame for pkt under nonce.
func (d *testDevice) sealed(nonce uint64, pkt *rpc.Packet) []byte {
	d.t.Helper()
	f, err := frame.EncryptFrame(d.id, frame.CounterNonce(nonce), pkt.Encode(), d.key)
	if err != nil {
		d.t.Fatalf("EncryptFrame() error = %v", err)
	}
	return hdlc.Encode(1, f)
}

func (d *testDevice) write(b []byte) {
	d.t.Helper()
	d.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := d.conn.Write(b); err != nil {
		d.t.Fatalf("Write() error = %v", err)
	}
}

func (d *testDevice) send(nonce uint64, pkt *rpc.Packet) {
	d.t.Helper()
	d.write(d.sealed(nonce, pkt))
}

// receive reads the next response frame and decrypts it.
func (d *testDevice) receive() (*frame.Decrypted, *rpc.Packet) {
	d.t.Helper()

	buf := make([]byte, 4096)
	for len(d.pending) == 0 {
		d.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := d.conn.Read(buf)
		if err != nil {
			d.t.Fatalf("Read() error = %v", err)
		}
		frames, errs := d.decoder.Feed(buf[:n])
		if len(errs) > 0 {
			d.t.Fatalf("Feed() errors = %v", errs)
		}
		d.pending = append(d.pending, frames...)
	}

	f := d.pending[0]
	d.pending = d.pending[1:]

	if f.Address != ResponseAddress {
		d.t.Errorf("response address = %d, want %d", f.Address, ResponseAddress)
	}

	dec, err := frame.DecryptFrame(f.Data, d.key)
	if err != nil {
		d.t.Fatalf("DecryptFrame() error = %v", err)
	}
	pkt, err := rpc.Decode(dec.Payload)
	if err != nil {
		d.t.Fatalf("rpc.Decode() error = %v", err)
	}
	return dec, pkt
}

// expectClosed waits for the server to close the socket.
func (d *testDevice) expectClosed() {
	d.t.Helper()

	buf := make([]byte, 4096)
	d.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		n, err := d.conn.Read(buf)
		if n > 0 {
			d.t.Errorf("received %d unexpected bytes before close", n)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				d.t.Fatal("connection not closed by server")
			}
			return
		}
	}
}

func echoRequest(callID uint32, payload []byte) *rpc.Packet {
	return &rpc.Packet{
		Type:      rpc.PacketTypeRequest,
		ChannelID: 1,
		ServiceID: echoServiceID,
		MethodID:  echoMethodID,
		CallID:    callID,
		Payload:   payload,
	}
}

func nonceValue(n [frame.NonceSize]byte) uint64 {
	for _, b := range n[:8] {
		if b != 0 {
			return ^uint64(0)
		}
	}
	var v uint64
	for _, b := range n[8:] {
		v = v<<8 | uint64(b)
	}
	return v
}
