// Package discovery implements DNS-SD (mDNS) discovery of MACO gateways.
//
// This package provides:
//   - Advertising of the gateway service so devices and tools find it on the LAN
//   - Resolution of gateways advertised by other hosts
//   - TXT record encoding/decoding for gateway attributes
//
// Gateways register the _maco-gateway._tcp service in the local. domain.
package discovery

// DNS-SD service constants.
const (
	// ServiceGateway is the DNS-SD service type of a gateway.
	ServiceGateway = "_maco-gateway._tcp"

	// DefaultDomain is the default mDNS domain.
	DefaultDomain = "local."

	// DefaultPort is the default gateway port.
	DefaultPort = 5000
)
