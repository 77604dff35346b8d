// maco-gateway terminates encrypted device connections from MACO terminals
// and relays their RPC calls to the Firebase backend.
//
// Usage:
//
//	maco-gateway -master-key <32 hex chars> [options]
//	maco-gateway -browse
//
// Example:
//
//	maco-gateway -master-key 000102030405060708090a0b0c0d0e0f -port 5000 -mdns -v
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"
	"github.com/werkstattwaedi/machine-auth/pkg/discovery"
	"github.com/werkstattwaedi/machine-auth/pkg/maco"
)

func main() {
	os.Exit(run(ParseFlags()))
}

func newLoggerFactory(verbose bool) *logging.DefaultLoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	if verbose {
		lf.DefaultLogLevel = logging.LogLevelDebug
	} else {
		lf.DefaultLogLevel = logging.LogLevelInfo
	}
	return lf
}

func run(opts Options) int {
	lf := newLoggerFactory(opts.Verbose)
	log := lf.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.Browse {
		if err := browse(ctx, opts, lf); err != nil {
			log.Errorf("Browse failed: %v", err)
			return 1
		}
		return 0
	}

	config, err := opts.gatewayConfig(lf)
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}

	log.Info("Starting MACO Gateway")
	log.Infof("  Host: %s", config.Host)
	log.Infof("  Port: %d", config.Port)
	log.Infof("  Firebase URL: %s", config.BackendURL)
	log.Infof("  Cipher: %s, KDF: %s", config.Suite, config.KDF)

	gw, err := maco.NewGateway(config)
	if err != nil {
		log.Errorf("Failed to create gateway: %v", err)
		return 1
	}

	if err := gw.Start(ctx); err != nil {
		log.Errorf("Fatal error: %v", err)
		return 1
	}
	log.Infof("MACO Gateway listening on %s", gw.Addr())
	if name := gw.InstanceName(); name != "" {
		log.Infof("Advertising as %q", name)
	}

	<-gw.Done()
	log.Info("Shut down")
	return 0
}

// browse prints the gateways advertised on the local network.
func browse(ctx context.Context, opts Options, lf logging.LoggerFactory) error {
	resolver, err := discovery.NewResolver(opts.resolverConfig(lf))
	if err != nil {
		return err
	}

	results, err := resolver.Browse(ctx)
	if err != nil {
		return err
	}

	n := 0
	for gw := range results {
		fmt.Printf("%s\t%s\tversion=%s suite=%s kdf=%s\n",
			gw.InstanceName, gw.Addr(), gw.TXT.Version, gw.TXT.Suite, gw.TXT.KDF)
		n++
	}
	if n == 0 {
		fmt.Fprintln(os.Stderr, "no gateways found")
	}
	return nil
}
