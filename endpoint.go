package vpnkit

import (
	"net"
	"net/url"
	"strings"
	"time"
)

// Endpoint is a parsed stack endpoint of the form
// [scheme://][user:pass@]addr. The scheme can be divided in two by
// '+' to name the conduit transport, such as: mux+vsock.
type Endpoint struct {
	Protocol  string // host, socks5, ssh, mux
	Transport string // tcp, unix, vsock
	Addr      string
	User      *url.Userinfo
}

// ParseEndpoint parses the endpoint info.
func ParseEndpoint(s string) (ep Endpoint, err error) {
	if s == "" || s == "host" {
		return Endpoint{Protocol: "host", Transport: "tcp"}, nil
	}

	if !strings.Contains(s, "://") {
		s = "tcp://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return
	}

	ep = Endpoint{
		Addr: u.Host,
		User: u.User,
	}
	if u.Host == "" {
		// unix socket paths ride in the URL path.
		ep.Addr = u.Path
	}

	schemes := strings.Split(u.Scheme, "+")
	if len(schemes) == 1 {
		ep.Protocol = schemes[0]
		ep.Transport = schemes[0]
	}
	if len(schemes) == 2 {
		ep.Protocol = schemes[0]
		ep.Transport = schemes[1]
	}

	switch ep.Transport {
	case "tcp", "unix", "vsock":
	default:
		ep.Transport = "tcp"
	}

	switch ep.Protocol {
	case "host", "socks5", "ssh", "mux":
	case "socks":
		ep.Protocol = "socks5"
	case "tcp", "unix", "vsock": // bare transport endpoints
		ep.Protocol = ""
	default:
		ep.Protocol = ""
	}

	return
}

// ListenEndpoint opens a listening socket on the endpoint's transport.
func ListenEndpoint(ep Endpoint) (net.Listener, error) {
	switch ep.Transport {
	case "unix":
		return net.Listen("unix", ep.Addr)
	case "vsock":
		return ListenVsock(ep.Addr)
	default:
		return net.Listen("tcp", ep.Addr)
	}
}

func dialEndpoint(network, addr string, timeout time.Duration) (net.Conn, error) {
	switch network {
	case "unix":
		return net.DialTimeout("unix", addr, timeout)
	case "vsock":
		return DialVsock(addr)
	default:
		return net.DialTimeout("tcp", addr, timeout)
	}
}
