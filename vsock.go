package vpnkit

import (
	"net"
	"strconv"

	"github.com/mdlayher/vsock"
)

// DialVsock connects to a VSOCK endpoint given as "cid:port".
// An empty cid dials context 0, the hypervisor.
func DialVsock(addr string) (net.Conn, error) {
	vAddr, err := parseVsockAddr(addr)
	if err != nil {
		return nil, err
	}
	return vsock.Dial(vAddr.ContextID, vAddr.Port, nil)
}

// ListenVsock listens on the VSOCK port of addr; the cid part is
// ignored, the socket is bound to the local context.
func ListenVsock(addr string) (net.Listener, error) {
	vAddr, err := parseVsockAddr(addr)
	if err != nil {
		return nil, err
	}
	return vsock.Listen(vAddr.Port, nil)
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

func parseVsockAddr(addr string) (*vsock.Addr, error) {
	hostStr, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	host := uint32(0)
	if hostStr != "" {
		host, err = parseUint32(hostStr)
		if err != nil {
			return nil, err
		}
	}

	port, err := parseUint32(portStr)
	if err != nil {
		return nil, err
	}
	return &vsock.Addr{ContextID: host, Port: port}, nil
}
