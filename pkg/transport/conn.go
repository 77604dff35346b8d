package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/werkstattwaedi/machine-auth/pkg/frame"
	"github.com/werkstattwaedi/machine-auth/pkg/hdlc"
	"github.com/werkstattwaedi/machine-auth/pkg/rpc"
)

// ResponseAddress is the HDLC address of frames sent to devices.
const ResponseAddress = 1

// readBufferSize is the socket read size.
const readBufferSize = 4096

// ConnStats counts frame outcomes on a connection.
type ConnStats struct {
	FramesReceived uint64
	FramesDropped  uint64
	Replays        uint64
	ResponsesSent  uint64
}

// ConnectionInfo is a snapshot of a connection for diagnostics.
type ConnectionInfo struct {
	ID         string
	RemoteAddr string
	State      ConnState
	DeviceID   uint64
	Since      time.Time
	Stats      ConnStats
}

// connConfig carries the server collaborators shared by all connections.
type connConfig struct {
	keys         KeyStore
	handler      Handler
	transport    *frame.Transport
	windowSize   int
	maxFrameSize int
	readTimeout  time.Duration
	writeTimeout time.Duration
	log          logging.LeveledLogger
}

// Connection runs the frame pipeline for one device socket:
// HDLC decode, frame decrypt, replay check, RPC dispatch and the reverse path
// for responses. Frames are processed sequentially.
type Connection struct {
	id      uuid.UUID
	conn    net.Conn
	since   time.Time
	cfg     connConfig
	log     logging.LeveledLogger
	ctx     context.Context
	cancel  context.CancelFunc
	decoder *hdlc.Decoder
	nonces  *frame.NonceTracker

	// Owned by the serving goroutine.
	key        []byte
	outCounter uint64

	mu       sync.RWMutex
	state    ConnState
	deviceID uint64

	closeOnce sync.Once

	framesReceived atomic.Uint64
	framesDropped  atomic.Uint64
	replays        atomic.Uint64
	responsesSent  atomic.Uint64
}

func newConnection(parent context.Context, conn net.Conn, cfg connConfig) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		id:      uuid.New(),
		conn:    conn,
		since:   time.Now(),
		cfg:     cfg,
		log:     cfg.log,
		ctx:     ctx,
		cancel:  cancel,
		decoder: hdlc.NewDecoder(cfg.maxFrameSize),
		nonces:  frame.NewNonceTracker(cfg.windowSize),
	}
}

// ID returns the connection identifier used in logs.
func (c *Connection) ID() string {
	return c.id.String()
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// DeviceID returns the bound device identifier. ok is false while unbound.
func (c *Connection) DeviceID() (id uint64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID, c.state == StateBound
}

// Stats returns a snapshot of the frame counters.
func (c *Connection) Stats() ConnStats {
	return ConnStats{
		FramesReceived: c.framesReceived.Load(),
		FramesDropped:  c.framesDropped.Load(),
		Replays:        c.replays.Load(),
		ResponsesSent:  c.responsesSent.Load(),
	}
}

// Info returns a diagnostic snapshot.
func (c *Connection) Info() ConnectionInfo {
	c.mu.RLock()
	state, deviceID := c.state, c.deviceID
	c.mu.RUnlock()

	return ConnectionInfo{
		ID:         c.ID(),
		RemoteAddr: c.conn.RemoteAddr().String(),
		State:      state,
		DeviceID:   deviceID,
		Since:      c.since,
		Stats:      c.Stats(),
	}
}

// Close terminates the connection. It is safe to call more than once and
// from any goroutine; in-flight handler calls observe a cancelled context.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()

		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// serve reads until EOF, a socket error, a fatal protocol error or Close.
// A clean EOF or a local close returns nil.
func (c *Connection) serve() error {
	defer func() {
		c.Close()
		c.nonces.Reset()
		c.key = nil
	}()

	buf := make([]byte, readBufferSize)
	for {
		if c.cfg.readTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.cfg.readTimeout))
		}

		n, readErr := c.conn.Read(buf)
		if n > 0 {
			frames, errs := c.decoder.Feed(buf[:n])
			for _, err := range errs {
				c.framesDropped.Add(1)
				c.debugf("dropping HDLC frame: %v", err)
			}
			for _, f := range frames {
				if err := c.handleFrame(f.Data); err != nil {
					return err
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) || c.ctx.Err() != nil {
				return nil
			}
			return readErr
		}
	}
}

// handleFrame runs one AEAD frame through the pipeline. Recoverable problems
// drop the frame and return nil; the returned error terminates the connection.
func (c *Connection) handleFrame(data []byte) error {
	c.framesReceived.Add(1)

	if len(data) < frame.MinFrameSize {
		c.drop("frame too short (%d bytes)", len(data))
		return nil
	}

	deviceID, _ := frame.ParseDeviceID(data)
	if err := c.bind(deviceID); err != nil {
		return err
	}

	dec, err := c.cfg.transport.DecryptFrame(data, c.key)
	if err != nil {
		c.drop("decrypt failed: %v", err)
		return nil
	}

	if !c.nonces.CheckAndUpdate(dec.Nonce[:]) {
		c.replays.Add(1)
		c.drop("%v", frame.ErrReplayDetected)
		return nil
	}

	pkt, err := rpc.Decode(dec.Payload)
	if err != nil {
		c.drop("%v", err)
		return nil
	}

	if !pkt.IsRequest() {
		c.debugf("ignoring %s", pkt)
		return nil
	}

	c.debugf("request %s", pkt)
	return c.respond(pkt, c.dispatch(pkt))
}

// bind fixes the device on the first frame and rejects any other device
// afterwards.
func (c *Connection) bind(deviceID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUnbound:
		c.key = c.cfg.keys.DeviceKey(deviceID)
		c.deviceID = deviceID
		c.state = StateBound
		if c.log != nil {
			c.log.Infof("[%s] bound to device %016X", c.id, deviceID)
		}
		return nil
	case StateBound:
		if deviceID != c.deviceID {
			if c.log != nil {
				c.log.Warnf("[%s] device id mismatch: bound=%016X frame=%016X",
					c.id, c.deviceID, deviceID)
			}
			return ErrDeviceIDMismatch
		}
		return nil
	default:
		return ErrClosed
	}
}

type dispatchResult struct {
	status  rpc.Status
	payload []byte
}

func (c *Connection) dispatch(pkt *rpc.Packet) dispatchResult {
	payload, err := c.cfg.handler.HandleRPC(c.ctx, c.deviceID, pkt)
	status := rpc.StatusFromError(err)
	if status != rpc.StatusOK {
		if c.log != nil {
			c.log.Infof("[%s] call %d failed: %s (%v)", c.id, pkt.CallID, status, err)
		}
		return dispatchResult{status: status}
	}
	return dispatchResult{status: status, payload: payload}
}

// respond seals the response under the next outbound nonce and writes it.
func (c *Connection) respond(req *rpc.Packet, res dispatchResult) error {
	plaintext := rpc.NewResponse(req, res.status, res.payload).Encode()

	c.outCounter++
	sealed, err := c.cfg.transport.EncryptFrame(c.deviceID, frame.CounterNonce(c.outCounter), plaintext, c.key)
	if err != nil {
		return err
	}

	if c.cfg.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	}
	if _, err := c.conn.Write(hdlc.Encode(ResponseAddress, sealed)); err != nil {
		if c.ctx.Err() != nil {
			// Closed while the handler was running; the result is discarded.
			return nil
		}
		return err
	}

	c.responsesSent.Add(1)
	return nil
}

func (c *Connection) drop(format string, args ...interface{}) {
	c.framesDropped.Add(1)
	if c.log != nil {
		c.log.Debugf("[%s] dropping frame: "+format, append([]interface{}{c.id}, args...)...)
	}
}

func (c *Connection) debugf(format string, args ...interface{}) {
	if c.log != nil {
		c.log.Debugf("[%s] "+format, append([]interface{}{c.id}, args...)...)
	}
}
