package vpnkit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/go-log/log"
)

// Forward is a started forwarding rule: one listening socket plus the
// accept loop feeding per-connection proxy tasks. A Forward is
// obtained from Start and released with Stop; the zero value is not
// usable.
type Forward struct {
	rule      Rule
	connector Connector
	stats     Stats

	mu sync.Mutex
	ln net.Listener
}

// Start binds the rule's local endpoint and begins accepting
// connections, forwarding each to the rule's remote target through c.
// It returns once the socket is bound and the accept loop is running,
// before any connection is accepted.
//
// The returned Forward carries the resolved rule: when the local port
// was the ephemeral 0 it is replaced with the port the OS picked, and
// a remote port of 0 is replaced with the resolved local port.
func Start(c Connector, r Rule) (*Forward, error) {
	ln, err := listenLocal(r.Local)
	if err != nil {
		return nil, err
	}

	if local, ok := r.Local.(IPAddress); ok {
		tcpAddr, ok := ln.Addr().(*net.TCPAddr)
		if !ok {
			ln.Close()
			return nil, errors.New("failed to query local port")
		}
		local.Port = Port(tcpAddr.Port)
		r.Local = local
		if r.RemotePort == 0 {
			r.RemotePort = local.Port
		}
	}

	f := &Forward{
		rule:      r,
		connector: c,
		ln:        ln,
	}
	safeGo(func() { f.accept(ln) })

	log.Logf("[forward] %s: listening on %s", f.rule, ln.Addr())
	return f, nil
}

func listenLocal(local LocalAddress) (net.Listener, error) {
	switch addr := local.(type) {
	case IPAddress:
		lc := net.ListenConfig{
			Control:   controlReuseAddr,
			KeepAlive: KeepAliveTime,
		}
		ln, err := lc.Listen(context.Background(), "tcp4", addr.String())
		if err != nil {
			if errors.Is(err, syscall.EADDRINUSE) {
				return nil, fmt.Errorf("bind for %s failed: port is already allocated", addr)
			}
			return nil, err
		}
		return ln, nil

	case UnixAddress:
		return net.Listen("unix", addr.Path)

	default:
		return nil, fmt.Errorf("unsupported local address: %v", local)
	}
}

// Rule returns the resolved rule this forward is serving.
func (f *Forward) Rule() Rule {
	return f.rule
}

// Stats returns the forward's traffic counters.
func (f *Forward) Stats() *Stats {
	return &f.stats
}

// Addr returns the bound listener address, or nil after Stop.
func (f *Forward) Addr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ln == nil {
		return nil
	}
	return f.ln.Addr()
}

// Listening reports whether the forward still owns its listening socket.
func (f *Forward) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ln != nil
}

// Stop closes the listening socket. It is safe to call more than
// once. Stop does not wait for the accept loop to observe the closure
// or for in-flight proxy tasks to finish; established connections
// keep relaying until their streams close.
func (f *Forward) Stop() {
	f.mu.Lock()
	ln := f.ln
	f.ln = nil
	f.mu.Unlock()

	if ln == nil {
		return
	}
	ln.Close()
	log.Logf("[forward] %s: closed", f.rule)
}

func (f *Forward) accept(ln net.Listener) {
	var tempDelay time.Duration
	for {
		conn, e := ln.Accept()
		if e != nil {
			if errors.Is(e, net.ErrClosed) {
				// Stop closed the socket, the intended shutdown path.
				return
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := 1 * time.Second; tempDelay > max {
				tempDelay = max
			}
			log.Logf("[%s] accept error: %v; retrying in %v", f.rule, e, tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		safeGo(func() { f.proxy(conn) })
	}
}
