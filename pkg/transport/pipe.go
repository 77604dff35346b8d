package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// LinkCondition configures the impairments a Pipe applies to device writes.
type LinkCondition struct {
	// DropRate is the probability of dropping a write (0.0 - 1.0).
	DropRate float64

	// DuplicateRate is the probability of delivering a write twice (0.0 - 1.0).
	DuplicateRate float64

	// DelayMin and DelayMax bound a uniformly distributed delay added to
	// each write.
	DelayMin time.Duration
	DelayMax time.Duration
}

// PipeAddr implements net.Addr for pipe endpoints.
type PipeAddr struct {
	Side string // "device" or "gateway"
	ID   int
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

// String returns a string representation of the address.
func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%s:%d", a.Side, a.ID) }

// Pipe is an in-memory device link for tests. It wraps pion's test.Bridge,
// so every Write is delivered as one unit, and applies a LinkCondition to
// writes from the device side. Pass GatewayConn to Server.AddConnection and
// speak the device protocol on DeviceConn.
//
// A queued write is handed over only when the peer is reading, so a side
// that stops reading stalls its inbound queue without blocking the other.
type Pipe struct {
	bridge  *test.Bridge
	device  *PipeConn
	gateway *PipeConn

	mu        sync.Mutex
	condition LinkCondition
	rng       *rand.Rand
	closed    bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

var pipeIDs struct {
	sync.Mutex
	next int
}

// NewPipe creates a pipe whose queued writes are delivered every interval
// by a background goroutine. Zero selects 1ms.
func NewPipe(interval time.Duration) *Pipe {
	if interval <= 0 {
		interval = time.Millisecond
	}

	pipeIDs.Lock()
	pipeIDs.next++
	id := pipeIDs.next
	pipeIDs.Unlock()

	p := &Pipe{
		bridge: test.NewBridge(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh: make(chan struct{}),
	}
	deviceAddr := PipeAddr{Side: "device", ID: id}
	gatewayAddr := PipeAddr{Side: "gateway", ID: id}
	p.device = &PipeConn{conn: p.bridge.GetConn0(), local: deviceAddr, remote: gatewayAddr, pipe: p}
	p.gateway = &PipeConn{conn: p.bridge.GetConn1(), local: gatewayAddr, remote: deviceAddr}

	p.wg.Add(1)
	go p.deliver(interval)

	return p
}

func (p *Pipe) deliver(interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			for p.bridge.Tick() > 0 {
			}
		}
	}
}

// SetCondition replaces the link condition for subsequent device writes.
func (p *Pipe) SetCondition(cond LinkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the current link condition.
func (p *Pipe) Condition() LinkCondition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.condition
}

// DeviceConn returns the device endpoint.
func (p *Pipe) DeviceConn() net.Conn {
	return p.device
}

// GatewayConn returns the gateway endpoint.
func (p *Pipe) GatewayConn() net.Conn {
	return p.gateway
}

// Close closes both endpoints and stops delivery. Writes still queued are
// discarded and blocked readers on either side return io.EOF.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	// Either endpoint may already have been closed by its user.
	_ = p.device.Close()
	_ = p.gateway.Close()

	close(p.stopCh)
	p.wg.Wait()

	// A closing bridge endpoint releases its reader on the first Tick with
	// an empty inbound queue.
	p.bridge.Drop(0, 0, p.bridge.Len(0))
	p.bridge.Drop(1, 0, p.bridge.Len(1))
	p.bridge.Tick()
	return nil
}

// plan decides the fate of one device write: how many copies to deliver
// and after which delay.
func (p *Pipe) plan() (copies int, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cond := p.condition
	if cond.DropRate > 0 && p.rng.Float64() < cond.DropRate {
		return 0, 0
	}

	copies = 1
	if cond.DuplicateRate > 0 && p.rng.Float64() < cond.DuplicateRate {
		copies = 2
	}

	delay = cond.DelayMin
	if cond.DelayMax > cond.DelayMin {
		delay += time.Duration(p.rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
	}
	return copies, delay
}

// PipeConn is one endpoint of a Pipe.
type PipeConn struct {
	conn   net.Conn
	local  PipeAddr
	remote PipeAddr
	pipe   *Pipe // set on the device side only
}

// Read reads the next delivered write.
func (c *PipeConn) Read(b []byte) (int, error) {
	return c.conn.Read(b)
}

// Write queues b for delivery, applying the link condition on the device side.
func (c *PipeConn) Write(b []byte) (int, error) {
	if c.pipe == nil {
		return c.conn.Write(b)
	}

	copies, delay := c.pipe.plan()
	if delay > 0 {
		time.Sleep(delay)
	}
	for i := 0; i < copies; i++ {
		if _, err := c.conn.Write(b); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

// Close closes the endpoint.
func (c *PipeConn) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the local pipe address.
func (c *PipeConn) LocalAddr() net.Addr {
	return c.local
}

// RemoteAddr returns the peer pipe address.
func (c *PipeConn) RemoteAddr() net.Addr {
	return c.remote
}

// SetDeadline forwards to the bridge endpoint.
func (c *PipeConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline forwards to the bridge endpoint.
func (c *PipeConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline forwards to the bridge endpoint.
func (c *PipeConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

var _ net.Conn = (*PipeConn)(nil)
