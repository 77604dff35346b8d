package maco

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/logging"
	"github.com/werkstattwaedi/machine-auth/pkg/backend"
	"github.com/werkstattwaedi/machine-auth/pkg/discovery"
	"github.com/werkstattwaedi/machine-auth/pkg/frame"
	"github.com/werkstattwaedi/machine-auth/pkg/gateway"
	"github.com/werkstattwaedi/machine-auth/pkg/keystore"
)

// Network defaults.
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 5000
)

// Config holds all configuration for a Gateway.
type Config struct {
	// Network
	Host string // Listen host (default: 0.0.0.0)
	Port int    // TCP port (default: 5000)

	// Security - Required
	MasterKey []byte       // 16-byte shared secret devices derive their keys from
	Suite     frame.Suite  // Frame cipher suite (default: ASCON-AEAD128)
	KDF       keystore.KDF // Device key derivation (default: ASCON-Hash256)

	// Backend
	BackendURL     string           // Base URL (default: backend.DefaultBaseURL)
	APIKey         string           // Bearer token, optional
	BackendTimeout time.Duration    // Per-request timeout (default: 30s)
	Envelope       backend.Envelope // Body encoding (default: JSON)

	// Protocol limits - Optional (defaults if zero)
	WindowSize     int           // Replay window (default: 64)
	MaxErrorLength int           // Relayed error length before "..." (default: 120, negative disables)
	MaxConnections int           // Concurrent devices (default: unlimited)
	MaxFrameSize   int           // Decoded HDLC content bound (default: 1024)
	ReadTimeout    time.Duration // Idle connection timeout (default: none)

	// Discovery
	Advertise    bool   // Publish _maco-gateway._tcp via mDNS
	InstanceName string // mDNS instance name (default: maco-gateway-<random>)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory

	// Advanced - Testing
	Listener          net.Listener                // Pre-bound listener, overrides Host/Port
	Forwarder         gateway.Forwarder           // Replaces the HTTP backend client
	MDNSServerFactory discovery.MDNSServerFactory // Replaces zeroconf registration
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.MasterKey) != keystore.MasterKeySize {
		return ErrInvalidMasterKey
	}

	if c.Port < 0 || c.Port > 65535 {
		return ErrInvalidPort
	}

	if !c.Suite.IsValid() {
		return fmt.Errorf("%w: unknown cipher suite %d", ErrInvalidConfig, c.Suite)
	}

	if !c.KDF.IsValid() {
		return fmt.Errorf("%w: unknown key derivation %d", ErrInvalidConfig, c.KDF)
	}

	if c.WindowSize < 0 {
		return fmt.Errorf("%w: negative window size", ErrInvalidConfig)
	}

	if c.MaxConnections < 0 {
		return fmt.Errorf("%w: negative connection limit", ErrInvalidConfig)
	}

	if c.MaxFrameSize < 0 {
		return fmt.Errorf("%w: negative frame size", ErrInvalidConfig)
	}

	if c.BackendTimeout < 0 || c.ReadTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}

	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}

	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.BackendURL == "" {
		c.BackendURL = backend.DefaultBaseURL
	}

	if c.BackendTimeout == 0 {
		c.BackendTimeout = backend.DefaultTimeout
	}

	if c.WindowSize == 0 {
		c.WindowSize = frame.DefaultWindowSize
	}

	if c.MaxErrorLength == 0 {
		c.MaxErrorLength = gateway.DefaultMaxErrorLength
	}
}

// ListenAddr returns the host:port the gateway binds when no Listener is set.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
