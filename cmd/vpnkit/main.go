package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/00mjk/vpnkit"
	"github.com/go-log/log"
)

var (
	options struct {
		rules      stringList
		connectURL string
		rulesFile  string
		reload     time.Duration
		debugMode  bool
	}
)

func init() {
	var printVersion bool

	flag.Var(&options.rules, "L", "forwarding rule, can be given multiple times")
	flag.StringVar(&options.connectURL, "connect", "", "remote network stack endpoint (host, socks5://, ssh://, mux+tcp://, mux+unix://, mux+vsock://)")
	flag.StringVar(&options.rulesFile, "C", "", "rule file, one rule per line")
	flag.DurationVar(&options.reload, "reload", 0, "rule file reload period")
	flag.BoolVar(&options.debugMode, "D", false, "enable debug log")
	flag.BoolVar(&printVersion, "V", false, "print version")
	flag.Parse()

	vpnkit.SetLogger(&vpnkit.LogLogger{})

	if flag.NFlag() == 0 {
		flag.PrintDefaults()
		os.Exit(0)
	}

	if printVersion {
		fmt.Fprintf(os.Stderr, "vpnkit %s (%s)\n", vpnkit.Version, runtime.Version())
		os.Exit(0)
	}

	vpnkit.Debug = options.debugMode
}

func main() {
	connector, err := initConnector()
	if err != nil {
		log.Log(err)
		os.Exit(1)
	}

	rules, err := initRules()
	if err != nil {
		log.Log(err)
		os.Exit(1)
	}

	forwards := vpnkit.NewForwards(connector)
	if err := forwards.Set(rules); err != nil {
		log.Log(err)
		os.Exit(1)
	}

	if options.rulesFile != "" && options.reload > 0 {
		forwards.SetPeriod(options.reload)
		go vpnkit.PeriodReload(forwards, options.rulesFile)
	}

	select {}
}

func initConnector() (vpnkit.Connector, error) {
	ep, err := vpnkit.ParseEndpoint(options.connectURL)
	if err != nil {
		return nil, err
	}

	switch ep.Protocol {
	case "host":
		return vpnkit.HostConnector(), nil
	case "socks5":
		return vpnkit.SOCKS5Connector(ep.Addr, ep.User), nil
	case "ssh":
		return vpnkit.SSHConnector(ep.Addr, ep.User), nil
	case "mux":
		return vpnkit.MuxConnector(ep.Transport, ep.Addr), nil
	default:
		return nil, fmt.Errorf("unknown stack endpoint: '%s'", options.connectURL)
	}
}

func initRules() (rules []vpnkit.Rule, err error) {
	for _, s := range options.rules {
		rule, err := vpnkit.ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if options.rulesFile != "" {
		f, err := os.Open(options.rulesFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		rs, err := vpnkit.ParseRules(f)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rs...)
	}
	return
}

type stringList []string

func (l *stringList) String() string {
	return fmt.Sprintf("%s", *l)
}

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}
