package discovery

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSServer is the interface for mDNS service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	// Shutdown stops the server.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS server for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// InstanceName is the DNS-SD instance name.
	// If empty, "maco-gateway-" followed by random hex is used.
	InstanceName string

	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes the gateway service on the local network.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu       sync.RWMutex
	server   MDNSServer
	instance string
	port     int
	closed   bool
}

// NewAdvertiser creates a new Advertiser with the given configuration.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	instance := config.InstanceName
	if instance == "" {
		suffix, err := randomSuffix()
		if err != nil {
			return nil, fmt.Errorf("advertiser: failed to generate instance name: %w", err)
		}
		instance = "maco-gateway-" + suffix
	}

	a := &Advertiser{
		config:   config,
		factory:  factory,
		instance: instance,
	}

	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}

	return a, nil
}

// Start begins advertising the gateway listening on port.
func (a *Advertiser) Start(port int, txt GatewayTXT) error {
	if port <= 0 || port > 65535 {
		return ErrInvalidPort
	}
	if err := txt.Validate(); err != nil {
		return fmt.Errorf("advertiser: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}

	records := txt.Encode()
	if a.log != nil {
		a.log.Debugf("registering mDNS service: instance=%s service=%s domain=%s port=%d",
			a.instance, ServiceGateway, DefaultDomain, port)
		a.log.Tracef("TXT records: %v", records)
	}

	server, err := a.factory.Register(
		a.instance,
		ServiceGateway,
		DefaultDomain,
		port,
		records,
		a.config.Interfaces,
	)
	if err != nil {
		return fmt.Errorf("advertiser: mDNS registration failed for %s: %w", ServiceGateway, err)
	}

	if a.log != nil {
		a.log.Infof("advertising %s as %q on port %d", ServiceGateway, a.instance, port)
	}

	a.server = server
	a.port = port
	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server == nil {
		return ErrNotStarted
	}

	a.server.Shutdown()
	a.server = nil
	a.port = 0
	return nil
}

// Close stops advertising and closes the advertiser.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.closed = true

	return nil
}

// IsAdvertising returns true while the service is registered.
func (a *Advertiser) IsAdvertising() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.server != nil
}

// InstanceName returns the DNS-SD instance name.
func (a *Advertiser) InstanceName() string {
	return a.instance
}

// Port returns the advertised port, or 0 when not advertising.
func (a *Advertiser) Port() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.port
}

func randomSuffix() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
