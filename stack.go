package vpnkit

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Connector is the network-stack capability used to open outbound
// connections to the remote target. The stack behind it may be the
// host's own network or a virtualized guest network; the forwarding
// core makes no assumption about how it routes traffic.
type Connector interface {
	Connect(ip net.IP, port Port) (net.Conn, error)
}

// ConnectorOptions describes the options for Connector.
type ConnectorOptions struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	SSHConfig *SSHConfig
}

// ConnectorOption allows a common way to set connector options.
type ConnectorOption func(opts *ConnectorOptions)

// TimeoutConnectorOption specifies the timeout for connecting to the remote target.
func TimeoutConnectorOption(timeout time.Duration) ConnectorOption {
	return func(opts *ConnectorOptions) {
		opts.Timeout = timeout
	}
}

// KeepAliveConnectorOption specifies the keep alive period for outbound TCP connections.
func KeepAliveConnectorOption(d time.Duration) ConnectorOption {
	return func(opts *ConnectorOptions) {
		opts.KeepAlive = d
	}
}

// SSHConfigConnectorOption specifies the SSH client configuration used by SSHConnector.
func SSHConfigConnectorOption(config *SSHConfig) ConnectorOption {
	return func(opts *ConnectorOptions) {
		opts.SSHConfig = config
	}
}

type hostConnector struct {
	options *ConnectorOptions
}

// HostConnector creates a Connector that dials the remote target
// through the host's own network stack.
func HostConnector(opts ...ConnectorOption) Connector {
	options := &ConnectorOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &hostConnector{options: options}
}

func (c *hostConnector) Connect(ip net.IP, port Port) (net.Conn, error) {
	timeout := c.options.Timeout
	if timeout <= 0 {
		timeout = DialTimeout
	}

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if d := c.options.KeepAlive; d > 0 {
		setKeepAlive(conn, d)
	}
	return conn, nil
}

func setKeepAlive(conn net.Conn, d time.Duration) error {
	c, ok := conn.(*net.TCPConn)
	if !ok {
		return errors.New("Not a TCP connection")
	}
	if err := c.SetKeepAlive(true); err != nil {
		return err
	}
	if err := c.SetKeepAlivePeriod(d); err != nil {
		return err
	}
	return nil
}
