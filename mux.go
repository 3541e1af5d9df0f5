package vpnkit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-log/log"
	"github.com/xtaci/smux"
)

// The conduit carries one multiplexed stream per forwarded connection.
// Each stream starts with a connect request naming the remote target:
//
//	+------+----------+----------+
//	| PROT |  IP (4)  | PORT (2) |
//	+------+----------+----------+
//
// and is answered with a one-byte status, followed by a length-prefixed
// error message when the status is nonzero.
const (
	muxProtoIPv4 = 0x01

	muxStatusOK     = 0x00
	muxStatusFailed = 0x01
)

func writeConnectRequest(w io.Writer, ip net.IP, port Port) error {
	ip4 := ip.To4()
	if ip4 == nil {
		return fmt.Errorf("'%s' is not an IPv4 address", ip)
	}
	b := make([]byte, 7)
	b[0] = muxProtoIPv4
	copy(b[1:5], ip4)
	binary.BigEndian.PutUint16(b[5:7], uint16(port))
	_, err := w.Write(b)
	return err
}

func readConnectRequest(r io.Reader) (net.IP, Port, error) {
	b := make([]byte, 7)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, 0, err
	}
	if b[0] != muxProtoIPv4 {
		return nil, 0, fmt.Errorf("unknown protocol 0x%02x", b[0])
	}
	ip := net.IPv4(b[1], b[2], b[3], b[4]).To4()
	return ip, Port(binary.BigEndian.Uint16(b[5:7])), nil
}

func writeConnectReply(w io.Writer, err error) error {
	if err == nil {
		_, werr := w.Write([]byte{muxStatusOK})
		return werr
	}
	msg := err.Error()
	if len(msg) > 255 {
		msg = msg[:255]
	}
	b := make([]byte, 0, 2+len(msg))
	b = append(b, muxStatusFailed, byte(len(msg)))
	b = append(b, msg...)
	_, werr := w.Write(b)
	return werr
}

func readConnectReply(r io.Reader) error {
	b := make([]byte, 2)
	if _, err := io.ReadFull(r, b[:1]); err != nil {
		return err
	}
	if b[0] == muxStatusOK {
		return nil
	}
	if _, err := io.ReadFull(r, b[1:]); err != nil {
		return err
	}
	msg := make([]byte, b[1])
	if _, err := io.ReadFull(r, msg); err != nil {
		return err
	}
	return errors.New(string(msg))
}

type muxConnector struct {
	network string
	addr    string
	options *ConnectorOptions

	mu      sync.Mutex
	session *smux.Session
}

// MuxConnector creates a Connector that reaches the remote network
// through a single long-lived conduit served by ServeMux on the far
// side, one multiplexed stream per connection. network selects the
// conduit transport: "tcp", "unix" or "vsock".
func MuxConnector(network, addr string, opts ...ConnectorOption) Connector {
	options := &ConnectorOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &muxConnector{
		network: network,
		addr:    addr,
		options: options,
	}
}

func (c *muxConnector) Connect(ip net.IP, port Port) (net.Conn, error) {
	session, err := c.getSession()
	if err != nil {
		return nil, err
	}
	stream, err := session.OpenStream()
	if err != nil {
		// The conduit died underneath us, retire it and dial afresh.
		c.mu.Lock()
		if c.session == session {
			c.session = nil
		}
		c.mu.Unlock()
		session.Close()

		if session, err = c.getSession(); err != nil {
			return nil, err
		}
		if stream, err = session.OpenStream(); err != nil {
			return nil, err
		}
	}

	stream.SetDeadline(time.Now().Add(HandshakeTimeout))
	if err := writeConnectRequest(stream, ip, port); err != nil {
		stream.Close()
		return nil, err
	}
	if err := readConnectReply(stream); err != nil {
		stream.Close()
		return nil, err
	}
	stream.SetDeadline(time.Time{})

	return stream, nil
}

func (c *muxConnector) getSession() (*smux.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && !c.session.IsClosed() {
		return c.session, nil
	}

	timeout := c.options.Timeout
	if timeout <= 0 {
		timeout = DialTimeout
	}
	conn, err := dialEndpoint(c.network, c.addr, timeout)
	if err != nil {
		return nil, err
	}

	session, err := smux.Client(conn, smux.DefaultConfig())
	if err != nil {
		conn.Close()
		return nil, err
	}
	log.Logf("[mux] conduit %s://%s up", c.network, c.addr)

	c.session = session
	return session, nil
}

// ServeMux accepts conduit connections on ln and serves each as a
// multiplexed session: every stream carries one connect request that
// is dialed through c, then relayed until either side closes. It is
// the far end of MuxConnector, typically run inside the guest with a
// HostConnector into the guest-local network.
func ServeMux(ln net.Listener, c Connector) error {
	var tempDelay time.Duration
	for {
		conn, e := ln.Accept()
		if e != nil {
			if errors.Is(e, net.ErrClosed) {
				return nil
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := 1 * time.Second; tempDelay > max {
				tempDelay = max
			}
			log.Logf("[mux] accept error: %v; retrying in %v", e, tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		safeGo(func() { muxSession(conn, c) })
	}
}

func muxSession(conn net.Conn, c Connector) {
	defer conn.Close()

	session, err := smux.Server(conn, smux.DefaultConfig())
	if err != nil {
		log.Logf("[mux] %s : %s", conn.RemoteAddr(), err)
		return
	}
	defer session.Close()

	log.Logf("[mux] session %s <-> %s", conn.RemoteAddr(), conn.LocalAddr())
	defer log.Logf("[mux] session %s >-< %s", conn.RemoteAddr(), conn.LocalAddr())

	for {
		stream, err := session.AcceptStream()
		if err != nil {
			if !isClosedConnError(err) {
				log.Log("[mux] accept stream:", err)
			}
			return
		}

		safeGo(func() { muxStream(stream, c) })
	}
}

func muxStream(stream *smux.Stream, c Connector) {
	defer stream.Close()

	stream.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	ip, port, err := readConnectRequest(stream)
	if err != nil {
		log.Logf("[mux] %s : %s", stream.RemoteAddr(), err)
		return
	}
	stream.SetReadDeadline(time.Time{})

	raddr := fmt.Sprintf("%s:%d", ip, port)

	cc, err := c.Connect(ip, port)
	if err != nil {
		log.Logf("[mux] %s -> %s : %s", stream.RemoteAddr(), raddr, err)
		writeConnectReply(stream, err)
		return
	}
	defer cc.Close()

	if err := writeConnectReply(stream, nil); err != nil {
		log.Logf("[mux] %s -> %s : %s", stream.RemoteAddr(), raddr, err)
		return
	}

	log.Logf("[mux] %s <-> %s", stream.RemoteAddr(), raddr)
	transport(stream, cc)
	log.Logf("[mux] %s >-< %s", stream.RemoteAddr(), raddr)
}
