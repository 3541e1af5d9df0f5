package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/00mjk/vpnkit"
	"github.com/go-log/log"
)

var (
	options struct {
		listenURL string
		debugMode bool
	}
)

func init() {
	var printVersion bool

	flag.StringVar(&options.listenURL, "listen", "vsock://:62373", "conduit endpoint to listen on (tcp://, unix://, vsock://)")
	flag.BoolVar(&options.debugMode, "D", false, "enable debug log")
	flag.BoolVar(&printVersion, "V", false, "print version")
	flag.Parse()

	vpnkit.SetLogger(&vpnkit.LogLogger{})

	if printVersion {
		fmt.Fprintf(os.Stderr, "vpnkit-forwarder %s (%s)\n", vpnkit.Version, runtime.Version())
		os.Exit(0)
	}

	vpnkit.Debug = options.debugMode
}

func main() {
	ep, err := vpnkit.ParseEndpoint(options.listenURL)
	if err != nil {
		log.Log(err)
		os.Exit(1)
	}

	ln, err := vpnkit.ListenEndpoint(ep)
	if err != nil {
		log.Log(err)
		os.Exit(1)
	}

	log.Logf("[mux] listening on %s://%s", ep.Transport, ep.Addr)
	if err := vpnkit.ServeMux(ln, vpnkit.HostConnector()); err != nil {
		log.Log(err)
		os.Exit(1)
	}
}
