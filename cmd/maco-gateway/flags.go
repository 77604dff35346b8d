package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pion/logging"
	"github.com/werkstattwaedi/machine-auth/pkg/backend"
	"github.com/werkstattwaedi/machine-auth/pkg/discovery"
	"github.com/werkstattwaedi/machine-auth/pkg/frame"
	"github.com/werkstattwaedi/machine-auth/pkg/gateway"
	"github.com/werkstattwaedi/machine-auth/pkg/hdlc"
	"github.com/werkstattwaedi/machine-auth/pkg/keystore"
	"github.com/werkstattwaedi/machine-auth/pkg/maco"
)

// Options holds the gateway command line.
type Options struct {
	// Host and Port are the TCP listen address.
	Host string
	Port int

	// MasterKey is the 16-byte master secret as 32 hex characters.
	MasterKey string

	// FirebaseURL is the backend base URL.
	FirebaseURL string

	// APIKey is sent as a bearer token to the backend.
	APIKey string

	// Timeout bounds each backend request.
	Timeout time.Duration

	// Cipher and KDF select the frame suite and key derivation.
	Cipher string
	KDF    string

	Window      int
	MaxErrorLen int
	MaxConns    int

	// ReadTimeout closes idle device connections; zero disables it.
	ReadTimeout  time.Duration
	MaxFrameSize int

	// MDNS publishes the gateway as _maco-gateway._tcp.
	MDNS     bool
	Instance string

	// Browse lists advertised gateways and exits.
	Browse        bool
	BrowseTimeout time.Duration

	Verbose bool
}

// DefaultOptions returns the defaults of every flag.
func DefaultOptions() Options {
	return Options{
		Host:          maco.DefaultHost,
		Port:          maco.DefaultPort,
		FirebaseURL:   backend.DefaultBaseURL,
		Timeout:       backend.DefaultTimeout,
		Cipher:        frame.SuiteAscon128.String(),
		KDF:           keystore.KDFAsconHash256.String(),
		Window:        frame.DefaultWindowSize,
		MaxErrorLen:   gateway.DefaultMaxErrorLength,
		MaxFrameSize:  hdlc.DefaultMaxContentSize,
		BrowseTimeout: 3 * time.Second,
	}
}

// ParseFlags parses os.Args and exits on malformed flags.
//
//	-host           Host to listen on (default: 0.0.0.0)
//	-port           Port to listen on (default: 5000)
//	-master-key     Master key, 32 hex characters (required)
//	-firebase-url   Backend base URL
//	-api-key        Backend bearer token
//	-timeout        Backend request timeout (default: 30s)
//	-cipher         ascon | xchacha20poly1305 (default: ascon)
//	-kdf            ascon-hash256 | sha256 (default: ascon-hash256)
//	-window         Replay window size (default: 64)
//	-max-error-len  Relayed error length (default: 120, negative = unbounded)
//	-max-conns      Concurrent device limit (default: unlimited)
//	-read-timeout   Close connections idle this long (default: never)
//	-max-frame-size Decoded frame size limit in bytes (default: 1024)
//	-mdns           Advertise _maco-gateway._tcp on the local network
//	-instance       mDNS instance name
//	-browse         List gateways on the local network and exit
//	-verbose, -v    Enable debug logging
func ParseFlags() Options {
	o, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		// flag.CommandLine uses ExitOnError; only post-parse checks land here.
		fmt.Fprintln(os.Stderr, err)
		PrintUsage()
		os.Exit(2)
	}
	return o
}

func parseFlags(fs *flag.FlagSet, args []string) (Options, error) {
	defaults := DefaultOptions()
	o := Options{}

	fs.StringVar(&o.Host, "host", defaults.Host, "Host to listen on")
	fs.IntVar(&o.Port, "port", defaults.Port, "Port to listen on")
	fs.StringVar(&o.MasterKey, "master-key", "", "Master key for frame encryption (hex string, 32 chars = 16 bytes)")
	fs.StringVar(&o.FirebaseURL, "firebase-url", defaults.FirebaseURL, "Firebase Cloud Functions URL")
	fs.StringVar(&o.APIKey, "api-key", "", "Bearer token for backend requests")
	fs.DurationVar(&o.Timeout, "timeout", defaults.Timeout, "Backend request timeout")
	fs.StringVar(&o.Cipher, "cipher", defaults.Cipher, "Frame cipher suite (ascon, xchacha20poly1305)")
	fs.StringVar(&o.KDF, "kdf", defaults.KDF, "Device key derivation (ascon-hash256, sha256)")
	fs.IntVar(&o.Window, "window", defaults.Window, "Replay window size")
	fs.IntVar(&o.MaxErrorLen, "max-error-len", defaults.MaxErrorLen, "Relayed error length before truncation (negative = unbounded)")
	fs.IntVar(&o.MaxConns, "max-conns", 0, "Concurrent device connection limit (0 = unlimited)")
	fs.DurationVar(&o.ReadTimeout, "read-timeout", 0, "Close device connections idle for this long (0 = never)")
	fs.IntVar(&o.MaxFrameSize, "max-frame-size", defaults.MaxFrameSize, "Maximum decoded HDLC frame size in bytes")
	fs.BoolVar(&o.MDNS, "mdns", false, "Advertise the gateway via mDNS")
	fs.StringVar(&o.Instance, "instance", "", "mDNS instance name (default: maco-gateway-<random>)")
	fs.BoolVar(&o.Browse, "browse", false, "List gateways advertised on the local network and exit")
	fs.DurationVar(&o.BrowseTimeout, "browse-timeout", defaults.BrowseTimeout, "How long -browse listens")
	fs.BoolVar(&o.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&o.Verbose, "v", false, "Enable verbose logging (shorthand)")

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if !o.Browse && !isFlagSet(fs, "master-key") {
		return o, errors.New("-master-key is required")
	}

	return o, nil
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// parseMasterKey decodes a 32-character hex master key.
func parseMasterKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid master key: %w", err)
	}
	if len(key) != keystore.MasterKeySize {
		return nil, errors.New("master key must be 16 bytes (32 hex characters)")
	}
	return key, nil
}

// gatewayConfig converts the options into a gateway configuration.
func (o Options) gatewayConfig(loggerFactory logging.LoggerFactory) (maco.Config, error) {
	key, err := parseMasterKey(o.MasterKey)
	if err != nil {
		return maco.Config{}, err
	}
	suite, err := frame.ParseSuite(o.Cipher)
	if err != nil {
		return maco.Config{}, fmt.Errorf("-cipher %q: %w", o.Cipher, err)
	}
	kdf, err := keystore.ParseKDF(o.KDF)
	if err != nil {
		return maco.Config{}, fmt.Errorf("-kdf %q: %w", o.KDF, err)
	}

	config := maco.Config{
		Host:           o.Host,
		Port:           o.Port,
		MasterKey:      key,
		Suite:          suite,
		KDF:            kdf,
		BackendURL:     o.FirebaseURL,
		APIKey:         o.APIKey,
		BackendTimeout: o.Timeout,
		WindowSize:     o.Window,
		MaxErrorLength: o.MaxErrorLen,
		MaxConnections: o.MaxConns,
		MaxFrameSize:   o.MaxFrameSize,
		ReadTimeout:    o.ReadTimeout,
		Advertise:      o.MDNS,
		InstanceName:   o.Instance,
		LoggerFactory:  loggerFactory,
	}
	if err := config.Validate(); err != nil {
		return maco.Config{}, err
	}
	return config, nil
}

// resolverConfig returns the discovery configuration for -browse.
func (o Options) resolverConfig(loggerFactory logging.LoggerFactory) discovery.ResolverConfig {
	return discovery.ResolverConfig{
		BrowseTimeout: o.BrowseTimeout,
		LoggerFactory: loggerFactory,
	}
}

// PrintUsage prints usage information to stderr.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -master-key <hex> [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s -browse\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
}
