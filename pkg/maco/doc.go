// Package maco assembles a complete MACO gateway from its components.
//
// A Gateway owns the device key store, the gateway RPC service, the TCP
// server that terminates device connections and, optionally, the mDNS
// advertisement that lets devices find it on the local network.
//
// # Quick Start
//
//	gw, err := maco.NewGateway(maco.Config{
//	    MasterKey:  masterKey, // 16 bytes
//	    BackendURL: "https://backend.example.com",
//	    APIKey:     apiKey,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//
//	if err := gw.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Lifecycle
//
// A Gateway starts Idle. Start binds the listener, begins accepting devices
// and publishes the mDNS record when Config.Advertise is set. The gateway
// stops when Stop is called or the context passed to Start is cancelled.
// A stopped gateway cannot be restarted.
//
//	Idle --Start--> Running --Stop/ctx--> Stopped
package maco
