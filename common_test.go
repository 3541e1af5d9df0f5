package vpnkit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

func init() {
	// SetLogger(&LogLogger{})
	// Debug = true
	DialTimeout = 1000 * time.Millisecond
	HandshakeTimeout = 1000 * time.Millisecond
	ConnectTimeout = 1000 * time.Millisecond
}

// echoTestServer is a TCP server for test that echoes whatever it reads.
type echoTestServer struct {
	ln     net.Listener
	mu     sync.Mutex // guards closed
	closed bool
}

func newEchoTestServer() *echoTestServer {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("echotest: failed to listen on a port: %v", err))
	}
	return &echoTestServer{ln: ln}
}

func (s *echoTestServer) Start() {
	go s.serve()
}

func (s *echoTestServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			io.Copy(conn, conn)
		}()
	}
}

func (s *echoTestServer) Addr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

func (s *echoTestServer) IP() net.IP {
	return s.Addr().IP.To4()
}

func (s *echoTestServer) Port() Port {
	return Port(s.Addr().Port)
}

func (s *echoTestServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.ln.Close()
}

// pipeConnector is an in-memory Connector: every Connect returns one
// end of a net.Pipe whose other end is passed to serve on a new
// goroutine. It lets the forwarding core run without OS networking.
type pipeConnector struct {
	serve func(net.Conn)
}

func echoPipeConnector() *pipeConnector {
	return &pipeConnector{
		serve: func(conn net.Conn) {
			defer conn.Close()
			io.Copy(conn, conn)
		},
	}
}

func (c *pipeConnector) Connect(ip net.IP, port Port) (net.Conn, error) {
	left, right := net.Pipe()
	go c.serve(right)
	return left, nil
}

// recordConnector remembers the last target it was asked to connect to.
type recordConnector struct {
	pipe *pipeConnector

	mu   sync.Mutex
	ip   net.IP
	port Port
}

func (c *recordConnector) Connect(ip net.IP, port Port) (net.Conn, error) {
	c.mu.Lock()
	c.ip, c.port = ip, port
	c.mu.Unlock()
	return c.pipe.Connect(ip, port)
}

func (c *recordConnector) Target() (net.IP, Port) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ip, c.port
}

// errConnector refuses every connection.
type errConnector struct{}

func (errConnector) Connect(ip net.IP, port Port) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

// forwardRoundtrip dials the forward's local endpoint, writes data and
// expects it echoed back.
func forwardRoundtrip(f *Forward, data []byte) error {
	conn, err := net.Dial(f.Rule().Local.Network(), f.Addr().String())
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(3 * time.Second))

	if _, err := conn.Write(data); err != nil {
		return err
	}

	recv := make([]byte, len(data))
	if _, err := io.ReadFull(conn, recv); err != nil {
		return err
	}

	if !bytes.Equal(data, recv) {
		return fmt.Errorf("data not equal")
	}
	return nil
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
