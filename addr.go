package vpnkit

import (
	"fmt"
	"net"
	"strconv"
)

// Port is a TCP port number in the range 0 - 65535.
// Port 0 is special: on the listening side it asks the OS for an
// ephemeral port, on the remote side it means reusing the port number
// that was bound locally.
type Port uint16

// ParsePort parses s as a decimal port number.
func ParsePort(s string) (Port, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port is not an integer: '%s'", s)
	}
	if n < 0 || n > 65535 {
		return 0, fmt.Errorf("port out of range 0 <= %d <= 65535", n)
	}
	return Port(n), nil
}

// LocalAddress is the host-facing endpoint a forward listens on,
// either an IPAddress or a UnixAddress.
type LocalAddress interface {
	net.Addr
	localAddress()
}

// IPAddress is a TCP listening endpoint bound to an IPv4 address.
type IPAddress struct {
	IP   net.IP
	Port Port
}

// Network returns the listening network, "tcp".
func (a IPAddress) Network() string {
	return "tcp"
}

func (a IPAddress) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
}

func (a IPAddress) localAddress() {}

// UnixAddress is a Unix domain socket listening endpoint.
type UnixAddress struct {
	Path string
}

// Network returns the listening network, "unix".
func (a UnixAddress) Network() string {
	return "unix"
}

func (a UnixAddress) String() string {
	return "unix:" + a.Path
}

func (a UnixAddress) localAddress() {}

func parseIPv4(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip = ip.To4(); ip == nil {
		return nil, fmt.Errorf("'%s' is not an IPv4 address", s)
	}
	return ip, nil
}
