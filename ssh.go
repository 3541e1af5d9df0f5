package vpnkit

import (
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Applicable SSH request types for port forwarding - RFC 4254 7.X
const (
	DirectForwardRequest = "direct-tcpip" // RFC 4254 7.2
)

// SSHConfig holds the client configuration knobs for SSHConnector.
type SSHConfig struct {
	HostKeyCallback ssh.HostKeyCallback
}

type sshConnector struct {
	addr    string
	user    *url.Userinfo
	options *ConnectorOptions

	mu     sync.Mutex
	client *ssh.Client
}

// SSHConnector creates a Connector that opens direct-tcpip channels
// through an SSH server running inside the remote network. One SSH
// session is shared by all connections and re-established when it
// dies. Host keys are not verified unless an SSHConfig with a
// HostKeyCallback is supplied.
func SSHConnector(addr string, user *url.Userinfo, opts ...ConnectorOption) Connector {
	options := &ConnectorOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &sshConnector{
		addr:    addr,
		user:    user,
		options: options,
	}
}

func (c *sshConnector) Connect(ip net.IP, port Port) (net.Conn, error) {
	client, err := c.getClient()
	if err != nil {
		return nil, err
	}

	raddr := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
	conn, err := client.Dial("tcp", raddr)
	if err != nil {
		// The session may have died underneath us, retire it so the
		// next connection dials afresh.
		c.mu.Lock()
		if c.client == client {
			c.client = nil
		}
		c.mu.Unlock()
		client.Close()
		return nil, err
	}
	return conn, nil
}

func (c *sshConnector) getClient() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	timeout := c.options.Timeout
	if timeout <= 0 {
		timeout = DialTimeout
	}

	config := ssh.ClientConfig{
		Timeout:         timeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	if c.options.SSHConfig != nil && c.options.SSHConfig.HostKeyCallback != nil {
		config.HostKeyCallback = c.options.SSHConfig.HostKeyCallback
	}
	if c.user != nil {
		config.User = c.user.Username()
		password, _ := c.user.Password()
		config.Auth = []ssh.AuthMethod{
			ssh.Password(password),
		}
	}

	conn, err := net.DialTimeout("tcp", c.addr, timeout)
	if err != nil {
		return nil, err
	}

	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.addr, &config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	return c.client, nil
}
