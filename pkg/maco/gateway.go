package maco

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/logging"
	"github.com/werkstattwaedi/machine-auth/pkg/backend"
	"github.com/werkstattwaedi/machine-auth/pkg/discovery"
	"github.com/werkstattwaedi/machine-auth/pkg/frame"
	"github.com/werkstattwaedi/machine-auth/pkg/gateway"
	"github.com/werkstattwaedi/machine-auth/pkg/keystore"
	"github.com/werkstattwaedi/machine-auth/pkg/transport"
)

// Gateway is a MACO gateway: it accepts device connections, authenticates
// their frames and relays their RPC calls to the backend.
type Gateway struct {
	config Config
	log    logging.LeveledLogger

	keys       *keystore.KeyStore
	service    *gateway.Service
	dispatcher *gateway.Dispatcher
	frames     *frame.Transport

	mu         sync.RWMutex
	state      State
	server     *transport.Server
	advertiser *discovery.Advertiser
	done       chan struct{}
}

// NewGateway creates a gateway with the given configuration.
// The gateway is not started; call Start or Run to begin serving.
func NewGateway(config Config) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	g := &Gateway{
		config: config,
		state:  StateIdle,
		done:   make(chan struct{}),
	}

	if config.LoggerFactory != nil {
		g.log = config.LoggerFactory.NewLogger("maco")
	}

	keys, err := keystore.NewWithConfig(keystore.Config{
		MasterKey:     config.MasterKey,
		KDF:           config.KDF,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, fmt.Errorf("maco: failed to create key store: %w", err)
	}
	g.keys = keys

	forwarder := config.Forwarder
	if forwarder == nil {
		forwarder = backend.NewClient(backend.Config{
			BaseURL:       config.BackendURL,
			APIKey:        config.APIKey,
			Timeout:       config.BackendTimeout,
			Envelope:      config.Envelope,
			LoggerFactory: config.LoggerFactory,
		})
	}

	g.service, err = gateway.NewService(gateway.Config{
		Forwarder:      forwarder,
		MaxErrorLength: config.MaxErrorLength,
		LoggerFactory:  config.LoggerFactory,
	})
	if err != nil {
		return nil, fmt.Errorf("maco: failed to create service: %w", err)
	}

	g.dispatcher, err = gateway.NewDispatcher(g.service, config.LoggerFactory)
	if err != nil {
		return nil, fmt.Errorf("maco: failed to create dispatcher: %w", err)
	}

	g.frames, err = frame.NewTransport(config.Suite)
	if err != nil {
		return nil, fmt.Errorf("maco: failed to create frame transport: %w", err)
	}

	return g, nil
}

// Start binds the listener and begins serving devices. The gateway stops
// when ctx is cancelled or Stop is called.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrAlreadyStopped
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	server, err := transport.NewServer(transport.ServerConfig{
		Listener:       g.config.Listener,
		ListenAddr:     g.config.ListenAddr(),
		KeyStore:       g.keys,
		Handler:        g.dispatcher,
		Transport:      g.frames,
		WindowSize:     g.config.WindowSize,
		MaxConnections: g.config.MaxConnections,
		MaxFrameSize:   g.config.MaxFrameSize,
		ReadTimeout:    g.config.ReadTimeout,
		LoggerFactory:  g.config.LoggerFactory,
	})
	if err != nil {
		return fmt.Errorf("maco: failed to listen: %w", err)
	}

	if err := server.Start(); err != nil {
		server.Stop()
		return fmt.Errorf("maco: failed to start server: %w", err)
	}

	if g.config.Advertise {
		adv, err := g.startAdvertiser(server.Addr())
		if err != nil {
			server.Stop()
			return err
		}
		g.advertiser = adv
	}

	g.server = server
	g.state = StateRunning

	if g.log != nil {
		g.log.Infof("gateway started, addr=%s suite=%s kdf=%s", server.Addr(), g.frames.Suite(), g.keys.KDF())
	}

	go g.watch(ctx)

	return nil
}

// startAdvertiser publishes the gateway listening on addr.
func (g *Gateway) startAdvertiser(addr net.Addr) (*discovery.Advertiser, error) {
	adv, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		InstanceName:  g.config.InstanceName,
		ServerFactory: g.config.MDNSServerFactory,
		LoggerFactory: g.config.LoggerFactory,
	})
	if err != nil {
		return nil, fmt.Errorf("maco: failed to create advertiser: %w", err)
	}

	port := g.config.Port
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}

	txt := discovery.GatewayTXT{
		Version: discovery.ProtocolVersion,
		Suite:   g.frames.Suite().String(),
		KDF:     g.keys.KDF().String(),
	}
	if err := adv.Start(port, txt); err != nil {
		adv.Close()
		return nil, fmt.Errorf("maco: failed to advertise: %w", err)
	}

	return adv, nil
}

// watch stops the gateway when ctx is cancelled.
func (g *Gateway) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		if err := g.Stop(); err != nil && !errors.Is(err, ErrAlreadyStopped) && g.log != nil {
			g.log.Warnf("stop on context cancel: %v", err)
		}
	case <-g.done:
	}
}

// Run starts the gateway and blocks until it has stopped, either through
// ctx cancellation or a call to Stop.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Start(ctx); err != nil {
		return err
	}
	<-g.done
	return nil
}

// Stop withdraws the mDNS record, closes all device connections and waits
// for them to finish. Cached device keys are discarded.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	switch g.state {
	case StateIdle:
		g.mu.Unlock()
		return ErrNotStarted
	case StateStopped:
		g.mu.Unlock()
		return ErrAlreadyStopped
	}
	g.state = StateStopped
	server, adv := g.server, g.advertiser
	g.mu.Unlock()

	if g.log != nil {
		g.log.Info("stopping gateway")
	}

	var errs []error
	if adv != nil {
		if err := adv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("maco: advertiser: %w", err))
		}
	}
	if err := server.Stop(); err != nil && !errors.Is(err, transport.ErrClosed) {
		errs = append(errs, fmt.Errorf("maco: server: %w", err))
	}

	g.keys.ClearCache()
	close(g.done)

	if g.log != nil {
		g.log.Infof("gateway stopped, %d device logs pending", g.service.PendingLogCount())
	}

	return errors.Join(errs...)
}

// Done returns a channel that is closed once the gateway has stopped.
func (g *Gateway) Done() <-chan struct{} {
	return g.done
}

// State returns the current lifecycle state.
func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Addr returns the listening address, or nil if the gateway never started.
func (g *Gateway) Addr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.server == nil {
		return nil
	}
	return g.server.Addr()
}

// Connections returns a snapshot of the connected devices.
func (g *Gateway) Connections() []transport.ConnectionInfo {
	g.mu.RLock()
	server := g.server
	g.mu.RUnlock()
	if server == nil {
		return nil
	}
	return server.Connections()
}

// Service returns the gateway RPC service, e.g. to drain pending device logs.
func (g *Gateway) Service() *gateway.Service {
	return g.service
}

// KeyStore returns the device key store.
func (g *Gateway) KeyStore() *keystore.KeyStore {
	return g.keys
}

// InstanceName returns the advertised mDNS instance name, or "" when the
// gateway is not advertising.
func (g *Gateway) InstanceName() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.advertiser == nil {
		return ""
	}
	return g.advertiser.InstanceName()
}
