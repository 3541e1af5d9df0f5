package vpnkit

import (
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/go-gost/gosocks5"
	"github.com/go-log/log"
)

type clientSelector struct {
	methods []uint8
	User    *url.Userinfo
}

func (selector *clientSelector) Methods() []uint8 {
	return selector.methods
}

func (selector *clientSelector) AddMethod(methods ...uint8) {
	selector.methods = append(selector.methods, methods...)
}

func (selector *clientSelector) Select(methods ...uint8) (method uint8) {
	return
}

func (selector *clientSelector) OnSelected(method uint8, conn net.Conn) (net.Conn, error) {
	switch method {
	case gosocks5.MethodUserPass:
		var username, password string
		if selector.User != nil {
			username = selector.User.Username()
			password, _ = selector.User.Password()
		}

		req := gosocks5.NewUserPassRequest(gosocks5.UserPassVer, username, password)
		if err := req.Write(conn); err != nil {
			log.Log("[socks5]", err)
			return nil, err
		}
		if Debug {
			log.Log("[socks5]", req)
		}
		resp, err := gosocks5.ReadUserPassResponse(conn)
		if err != nil {
			log.Log("[socks5]", err)
			return nil, err
		}
		if Debug {
			log.Log("[socks5]", resp)
		}
		if resp.Status != gosocks5.Succeeded {
			return nil, gosocks5.ErrAuthFailure
		}
	case gosocks5.MethodNoAcceptable:
		return nil, gosocks5.ErrBadMethod
	}

	return conn, nil
}

type socks5Connector struct {
	addr    string
	user    *url.Userinfo
	options *ConnectorOptions
}

// SOCKS5Connector creates a Connector that opens remote connections
// through a SOCKS5 server fronting the remote network stack. user is
// optional; when set, username/password authentication is offered in
// addition to no-auth.
func SOCKS5Connector(addr string, user *url.Userinfo, opts ...ConnectorOption) Connector {
	options := &ConnectorOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &socks5Connector{
		addr:    addr,
		user:    user,
		options: options,
	}
}

func (c *socks5Connector) Connect(ip net.IP, port Port) (net.Conn, error) {
	timeout := c.options.Timeout
	if timeout <= 0 {
		timeout = DialTimeout
	}

	conn, err := net.DialTimeout("tcp", c.addr, timeout)
	if err != nil {
		return nil, err
	}

	selector := &clientSelector{
		User: c.user,
	}
	selector.AddMethod(
		gosocks5.MethodNoAuth,
		gosocks5.MethodUserPass,
	)

	conn.SetDeadline(time.Now().Add(HandshakeTimeout))

	cc := gosocks5.ClientConn(conn, selector)
	if err := cc.Handleshake(); err != nil {
		conn.Close()
		return nil, err
	}

	req := gosocks5.NewRequest(gosocks5.CmdConnect, &gosocks5.Addr{
		Type: gosocks5.AddrIPv4,
		Host: ip.String(),
		Port: uint16(port),
	})
	if err := req.Write(cc); err != nil {
		cc.Close()
		return nil, err
	}
	if Debug {
		log.Log("[socks5]", req)
	}

	reply, err := gosocks5.ReadReply(cc)
	if err != nil {
		cc.Close()
		return nil, err
	}
	if Debug {
		log.Log("[socks5]", reply)
	}
	if reply.Rep != gosocks5.Succeeded {
		cc.Close()
		return nil, errors.New("service unavailable")
	}

	cc.SetDeadline(time.Time{})
	return cc, nil
}
