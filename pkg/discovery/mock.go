package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockMDNSResolver provides a mock mDNS resolver for testing without real network I/O.
// It allows registering services and simulating discovery responses.
type MockMDNSResolver struct {
	mu       sync.RWMutex
	services map[string][]*zeroconf.ServiceEntry
}

// NewMockMDNSResolver creates a new mock resolver.
func NewMockMDNSResolver() *MockMDNSResolver {
	return &MockMDNSResolver{
		services: make(map[string][]*zeroconf.ServiceEntry),
	}
}

// RegisterService registers a service that will be returned by Browse/Lookup.
func (m *MockMDNSResolver) RegisterService(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[service] = append(m.services[service], entry)
}

// ClearServices removes all registered services.
func (m *MockMDNSResolver) ClearServices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = make(map[string][]*zeroconf.ServiceEntry)
}

func (m *MockMDNSResolver) entries(service string) []*zeroconf.ServiceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*zeroconf.ServiceEntry, len(m.services[service]))
	copy(out, m.services[service])
	return out
}

// Browse implements MDNSResolver.
func (m *MockMDNSResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, entry := range m.entries(service) {
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Lookup implements MDNSResolver.
func (m *MockMDNSResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, entry := range m.entries(service) {
		if entry.Instance != instance {
			continue
		}
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	return nil
}

// MockGatewayService creates a gateway service entry for testing.
func MockGatewayService(instanceName string, port int, ip net.IP, txt GatewayTXT) *zeroconf.ServiceEntry {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instanceName,
			Service:  ServiceGateway,
			Domain:   DefaultDomain,
		},
		HostName: instanceName + ".local.",
		Port:     port,
		Text:     txt.Encode(),
	}
	if ip.To4() != nil {
		entry.AddrIPv4 = []net.IP{ip}
	} else {
		entry.AddrIPv6 = []net.IP{ip}
	}
	return entry
}

// MockMDNSServer records Shutdown calls.
type MockMDNSServer struct {
	mu       sync.Mutex
	shutdown bool
}

// Shutdown implements MDNSServer.
func (s *MockMDNSServer) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
}

// IsShutdown reports whether Shutdown was called.
func (s *MockMDNSServer) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// MockRegistration is one recorded Register call.
type MockRegistration struct {
	Instance string
	Service  string
	Domain   string
	Port     int
	TXT      []string
	Server   *MockMDNSServer
}

// MockMDNSServerFactory records registrations without network I/O.
type MockMDNSServerFactory struct {
	mu            sync.Mutex
	registrations []MockRegistration

	// Err, when set, is returned by Register.
	Err error
}

// NewMockMDNSServerFactory creates a mock server factory.
func NewMockMDNSServerFactory() *MockMDNSServerFactory {
	return &MockMDNSServerFactory{}
}

// Register implements MDNSServerFactory.
func (f *MockMDNSServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	server := &MockMDNSServer{}
	f.registrations = append(f.registrations, MockRegistration{
		Instance: instance,
		Service:  service,
		Domain:   domain,
		Port:     port,
		TXT:      append([]string(nil), txt...),
		Server:   server,
	})
	return server, nil
}

// Registrations returns the recorded registrations.
func (f *MockMDNSServerFactory) Registrations() []MockRegistration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MockRegistration, len(f.registrations))
	copy(out, f.registrations)
	return out
}
