package vpnkit

import (
	"errors"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/go-log/log"
)

// Stats counts the connections and bytes relayed by one Forward.
type Stats struct {
	active   atomic.Int64
	total    atomic.Int64
	sent     atomic.Int64
	received atomic.Int64
}

// ActiveConns returns the number of proxy tasks currently running.
func (s *Stats) ActiveConns() int64 {
	return s.active.Load()
}

// TotalConns returns the number of connections accepted so far.
func (s *Stats) TotalConns() int64 {
	return s.total.Load()
}

// BytesSent returns the bytes relayed from local connections to the remote target.
func (s *Stats) BytesSent() int64 {
	return s.sent.Load()
}

// BytesReceived returns the bytes relayed from the remote target to local connections.
func (s *Stats) BytesReceived() int64 {
	return s.received.Load()
}

// proxy relays one accepted connection to the rule's remote target.
// Every failure is logged and contained here, it never reaches the
// accept loop or sibling connections.
func (f *Forward) proxy(conn net.Conn) {
	defer conn.Close()

	f.stats.total.Add(1)
	f.stats.active.Add(1)
	defer f.stats.active.Add(-1)

	raddr := net.JoinHostPort(f.rule.RemoteIP.String(), strconv.Itoa(int(f.rule.RemotePort)))
	if Debug {
		log.Logf("[%s] %s - %s", f.rule, conn.RemoteAddr(), raddr)
	}

	cc, err := f.connector.Connect(f.rule.RemoteIP, f.rule.RemotePort)
	if err != nil {
		log.Logf("[%s] %s -> %s : %s", f.rule, conn.RemoteAddr(), raddr, err)
		return
	}
	defer cc.Close()

	log.Logf("[%s] %s <-> %s", f.rule, conn.RemoteAddr(), raddr)
	sent, received, err := transport(conn, cc)
	f.stats.sent.Add(sent)
	f.stats.received.Add(received)
	if err != nil {
		log.Logf("[%s] %s >-< %s : %s", f.rule, conn.RemoteAddr(), raddr, err)
		return
	}
	log.Logf("[%s] %s >-< %s : %d bytes sent, %d bytes received",
		f.rule, conn.RemoteAddr(), raddr, sent, received)
}

// transport relays between local and remote until either side closes
// or errors, returning the bytes copied in each direction. The first
// direction to finish closes both connections to unblock the other,
// and both are waited for so the counters are complete.
func transport(local, remote net.Conn) (sent, received int64, err error) {
	sentc := make(chan copyResult, 1)
	recvc := make(chan copyResult, 1)

	go func() {
		n, err := copyBuffer(remote, local)
		sentc <- copyResult{n, err}
	}()
	go func() {
		n, err := copyBuffer(local, remote)
		recvc <- copyResult{n, err}
	}()

	for i := 0; i < 2; i++ {
		var r copyResult
		select {
		case r = <-sentc:
			sent = r.n
		case r = <-recvc:
			received = r.n
		}
		if r.err != nil && err == nil && !isClosedConnError(r.err) {
			err = r.err
		}
		if i == 0 {
			local.Close()
			remote.Close()
		}
	}
	return
}

type copyResult struct {
	n   int64
	err error
}

func copyBuffer(dst io.Writer, src io.Reader) (int64, error) {
	buf := lPool.Get().([]byte)
	defer lPool.Put(buf)

	return io.CopyBuffer(dst, src, buf)
}

// isClosedConnError reports whether err is one of the errors a relay
// direction returns when either end is torn down normally.
func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// safeGo runs fn on a new goroutine, converting a panic into a log
// line so a fault in one task cannot take down the process.
func safeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Logf("[panic] %v\n%s", r, debug.Stack())
			}
		}()
		fn()
	}()
}
