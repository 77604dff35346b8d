// Package transport accepts device TCP connections and runs the per-connection
// frame pipeline between the socket and an RPC Handler.
//
// Each connection reads HDLC-delimited frames, binds to the device named by
// the first frame, authenticates every frame with the device key and rejects
// replayed nonces before handing requests to the Handler. Responses are sealed
// under a per-connection outbound counter and written back in request order.
package transport

import (
	"context"
	"errors"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/marusama/semaphore"
	"github.com/pion/logging"
	"github.com/werkstattwaedi/machine-auth/pkg/frame"
)

// Accept backoff bounds.
const (
	acceptBackoffInitial = 5 * time.Millisecond
	acceptBackoffMax     = time.Second
)

// Server accepts device connections and tracks them until they terminate.
type Server struct {
	listener net.Listener
	connCfg  connConfig
	sem      semaphore.Semaphore
	ctx      context.Context
	cancel   context.CancelFunc
	closeCh  chan struct{}
	wg       sync.WaitGroup
	log      logging.LeveledLogger

	// Live connections keyed by connection ID.
	connsMu sync.RWMutex
	conns   map[string]*Connection

	mu      sync.RWMutex
	started bool
	closed  bool
}

// ServerConfig configures the server.
type ServerConfig struct {
	// Listener is an optional pre-existing Listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., ":5000").
	// Ignored if Listener is provided.
	ListenAddr string

	// KeyStore resolves device keys. Required.
	KeyStore KeyStore

	// Handler serves RPC requests. Required.
	Handler Handler

	// Transport selects the frame cipher suite (default: frame.DefaultTransport).
	Transport *frame.Transport

	// WindowSize is the replay window per connection
	// (default: frame.DefaultWindowSize).
	WindowSize int

	// MaxFrameSize bounds decoded HDLC content
	// (default: hdlc.DefaultMaxContentSize).
	MaxFrameSize int

	// MaxConnections limits concurrent connections. Zero means unlimited.
	MaxConnections int

	// ReadTimeout closes connections idle for longer than this.
	// Zero disables the timeout.
	ReadTimeout time.Duration

	// WriteTimeout bounds each response write. Zero disables the timeout.
	WriteTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewServer creates a server with the given configuration. The listener is
// bound immediately; connections are accepted after Start.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	if config.KeyStore == nil {
		return nil, ErrNoKeyStore
	}

	s := &Server{
		listener: config.Listener,
		closeCh:  make(chan struct{}),
		conns:    make(map[string]*Connection),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transport")
	}

	if config.MaxConnections > 0 {
		s.sem = semaphore.New(config.MaxConnections)
	}

	tr := config.Transport
	if tr == nil {
		tr = frame.DefaultTransport
	}
	s.connCfg = connConfig{
		keys:         config.KeyStore,
		handler:      config.Handler,
		transport:    tr,
		windowSize:   config.WindowSize,
		maxFrameSize: config.MaxFrameSize,
		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
		log:          s.log,
	}

	if s.listener == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			s.cancel()
			return nil, err
		}
		s.listener = listener
	}

	return s, nil
}

// Start begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("accepting connections on %s (suite %s)", s.listener.Addr(), s.connCfg.transport.Suite())
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Serve starts the server and blocks until ctx is cancelled or the server is
// stopped, then stops it.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.closeCh:
		return nil
	}

	if err := s.Stop(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// Stop closes the listener and all connections and waits for their
// goroutines to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("stopping server")
	}

	close(s.closeCh)
	s.cancel()
	s.listener.Close()

	s.connsMu.RLock()
	for _, c := range s.conns {
		c.Close()
	}
	s.connsMu.RUnlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Connections returns a snapshot of the live connections.
func (s *Server) Connections() []ConnectionInfo {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(s.conns))
	for _, c := range s.conns {
		infos = append(infos, c.Info())
	}
	return infos
}

// acceptLoop accepts incoming connections. Accept errors other than a closed
// listener are retried with exponential backoff.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = acceptBackoffInitial
	b.MaxInterval = acceptBackoffMax
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}

			delay := b.NextBackOff()
			if s.log != nil {
				s.log.Warnf("accept failed: %v; retrying in %v", err, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-s.closeCh:
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		b.Reset()

		if err := s.AddConnection(conn); err != nil && s.log != nil {
			s.log.Warnf("rejected connection from %s: %v", conn.RemoteAddr(), err)
		}
	}
}

// AddConnection serves an already established connection. The connection is
// closed and an error returned when the server is closed or at its limit.
// This is also useful for testing with net.Pipe().
func (s *Server) AddConnection(conn net.Conn) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		conn.Close()
		return ErrClosed
	}
	if s.sem != nil && !s.sem.TryAcquire(1) {
		conn.Close()
		return ErrTooManyConnections
	}

	c := newConnection(s.ctx, conn, s.connCfg)

	s.connsMu.Lock()
	s.conns[c.ID()] = c
	s.connsMu.Unlock()

	if s.log != nil {
		s.log.Infof("[%s] connection from %s", c.id, conn.RemoteAddr())
	}

	s.wg.Add(1)
	go s.handleConn(c)

	return nil
}

// handleConn runs a connection to completion. A panic is contained here and
// only closes the affected connection.
func (s *Server) handleConn(c *Connection) {
	defer s.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.Errorf("[%s] panic in connection: %v\n%s", c.id, r, debug.Stack())
			}
			c.Close()
		}

		s.connsMu.Lock()
		delete(s.conns, c.ID())
		s.connsMu.Unlock()

		if s.sem != nil {
			s.sem.Release(1)
		}
	}()

	err := c.serve()
	if s.log != nil {
		stats := c.Stats()
		if err != nil {
			s.log.Infof("[%s] connection closed: %v (frames=%d dropped=%d responses=%d)",
				c.id, err, stats.FramesReceived, stats.FramesDropped, stats.ResponsesSent)
		} else {
			s.log.Infof("[%s] connection closed (frames=%d dropped=%d responses=%d)",
				c.id, stats.FramesReceived, stats.FramesDropped, stats.ResponsesSent)
		}
	}
}
