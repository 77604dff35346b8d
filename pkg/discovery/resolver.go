package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout is the default timeout for lookup operations.
const DefaultLookupTimeout = 5 * time.Second

// Gateway is a gateway found on the network.
type Gateway struct {
	// InstanceName is the DNS-SD instance name.
	InstanceName string

	// HostName is the target host name.
	HostName string

	// Port is the gateway TCP port.
	Port int

	// IPs contains the resolved IP addresses, sorted by preference.
	IPs []net.IP

	// TXT holds the parsed gateway attributes.
	TXT GatewayTXT
}

// PreferredIP returns the most preferred IP address, or nil if none.
func (g *Gateway) PreferredIP() net.IP {
	if len(g.IPs) > 0 {
		return g.IPs[0]
	}
	return nil
}

// Addr returns "host:port" for the preferred address, falling back to the
// host name.
func (g *Gateway) Addr() string {
	host := g.HostName
	if ip := g.PreferredIP(); ip != nil {
		host = ip.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(g.Port))
}

// MDNSResolver is the interface for mDNS service resolution.
// Implementations send entries until ctx is done or the query completes and
// must not close entries.
type MDNSResolver interface {
	// Browse browses for services of the given type.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

	// Lookup looks up a specific service instance.
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	found := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Browse(ctx, service, domain, found); err != nil {
		return err
	}
	forwardEntries(ctx, found, entries)
	return nil
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	found := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Lookup(ctx, instance, service, domain, found); err != nil {
		return err
	}
	forwardEntries(ctx, found, entries)
	return nil
}

// forwardEntries relays entries from zeroconf, which closes found when ctx
// is done, and keeps draining found after ctx is done.
func forwardEntries(ctx context.Context, found <-chan *zeroconf.ServiceEntry, entries chan<- *zeroconf.ServiceEntry) {
	for entry := range found {
		select {
		case entries <- entry:
		case <-ctx.Done():
		}
	}
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout is the timeout for browse operations.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	// LookupTimeout is the timeout for lookup operations.
	// If zero, DefaultLookupTimeout is used.
	LookupTimeout time.Duration

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Resolver discovers gateways via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

// NewResolver creates a new Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}

	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	r := &Resolver{
		config:   config,
		resolver: resolver,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r, nil
}

// Browse discovers gateways on the network. The returned channel is closed
// when ctx is done or the browse timeout expires. Entries with invalid TXT
// records are skipped.
func (r *Resolver) Browse(ctx context.Context) (<-chan Gateway, error) {
	ctx, cancel := withDefaultTimeout(ctx, r.config.BrowseTimeout)

	results := make(chan Gateway)
	entries := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(entries)
		if err := r.resolver.Browse(ctx, ServiceGateway, DefaultDomain, entries); err != nil && r.log != nil {
			r.log.Warnf("browse %s failed: %v", ServiceGateway, err)
		}
	}()

	go func() {
		defer cancel()
		defer close(results)

		for entry := range entries {
			gw, ok := r.toGateway(entry)
			if !ok {
				continue
			}
			select {
			case results <- gw:
			case <-ctx.Done():
				return
			}
		}
	}()

	return results, nil
}

// Lookup resolves a gateway by instance name.
func (r *Resolver) Lookup(ctx context.Context, instanceName string) (*Gateway, error) {
	ctx, cancel := withDefaultTimeout(ctx, r.config.LookupTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(entries)
		r.resolver.Lookup(ctx, instanceName, ServiceGateway, DefaultDomain, entries)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, ErrServiceNotFound
			}
			if gw, ok := r.toGateway(entry); ok {
				return &gw, nil
			}
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		}
	}
}

// toGateway converts a zeroconf entry. It reports false for entries that do
// not describe a gateway.
func (r *Resolver) toGateway(entry *zeroconf.ServiceEntry) (Gateway, bool) {
	if entry == nil {
		return Gateway{}, false
	}

	txt, err := ParseGatewayTXT(entry.Text)
	if err != nil {
		if r.log != nil {
			r.log.Debugf("ignoring %q: %v", entry.Instance, err)
		}
		return Gateway{}, false
	}

	var ips []net.IP
	ips = append(ips, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)

	return Gateway{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          SortIPsByPreference(ips),
		TXT:          *txt,
	}, true
}

func withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
