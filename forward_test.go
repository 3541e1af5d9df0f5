package vpnkit

import (
	"crypto/rand"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestForward(t *testing.T) {
	echo := newEchoTestServer()
	echo.Start()
	defer echo.Close()

	rule := Rule{
		Local:      IPAddress{IP: net.IPv4(127, 0, 0, 1).To4(), Port: 0},
		RemoteIP:   echo.IP(),
		RemotePort: echo.Port(),
	}

	f, err := Start(HostConnector(), rule)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	local, ok := f.Rule().Local.(IPAddress)
	if !ok || local.Port == 0 {
		t.Fatalf("local port not resolved: %v", f.Rule().Local)
	}

	sendData := make([]byte, 128)
	rand.Read(sendData)

	if err := forwardRoundtrip(f, sendData); err != nil {
		t.Error(err)
	}

	stats := f.Stats()
	if !waitFor(time.Second, func() bool {
		return stats.BytesSent() == 128 && stats.BytesReceived() == 128 && stats.ActiveConns() == 0
	}) {
		t.Errorf("stats: %d sent, %d received, %d active",
			stats.BytesSent(), stats.BytesReceived(), stats.ActiveConns())
	}
	if stats.TotalConns() != 1 {
		t.Errorf("got %d total conns, want 1", stats.TotalConns())
	}
}

func TestForwardEphemeralPorts(t *testing.T) {
	c := &recordConnector{pipe: echoPipeConnector()}

	rule := Rule{
		Local:      IPAddress{IP: net.IPv4(127, 0, 0, 1).To4(), Port: 0},
		RemoteIP:   net.IPv4(10, 0, 0, 1).To4(),
		RemotePort: 0,
	}

	f, err := Start(c, rule)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	resolved := f.Rule()
	local := resolved.Local.(IPAddress)
	if local.Port == 0 {
		t.Fatal("local port not resolved")
	}
	if resolved.RemotePort != local.Port {
		t.Errorf("remote port %d, want resolved local port %d", resolved.RemotePort, local.Port)
	}

	sendData := make([]byte, 64)
	rand.Read(sendData)
	if err := forwardRoundtrip(f, sendData); err != nil {
		t.Error(err)
	}

	ip, port := c.Target()
	if !ip.Equal(resolved.RemoteIP) || port != resolved.RemotePort {
		t.Errorf("connected to %s:%d, want %s:%d", ip, port, resolved.RemoteIP, resolved.RemotePort)
	}
}

func TestForwardUnix(t *testing.T) {
	echo := newEchoTestServer()
	echo.Start()
	defer echo.Close()

	rule := Rule{
		Local:      UnixAddress{Path: filepath.Join(t.TempDir(), "echo.sock")},
		RemoteIP:   echo.IP(),
		RemotePort: echo.Port(),
	}

	f, err := Start(HostConnector(), rule)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	sendData := make([]byte, 128)
	rand.Read(sendData)
	if err := forwardRoundtrip(f, sendData); err != nil {
		t.Error(err)
	}
}

func TestForwardBindConflict(t *testing.T) {
	c := echoPipeConnector()

	rule := Rule{
		Local:      IPAddress{IP: net.IPv4(127, 0, 0, 1).To4(), Port: 0},
		RemoteIP:   net.IPv4(10, 0, 0, 1).To4(),
		RemotePort: 80,
	}

	f, err := Start(c, rule)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	_, err = Start(c, f.Rule())
	if err == nil {
		t.Fatal("second bind succeeded, want address-in-use error")
	}
	if !strings.Contains(err.Error(), "already allocated") {
		t.Errorf("unexpected bind error: %v", err)
	}
}

func TestForwardStop(t *testing.T) {
	c := echoPipeConnector()

	rule := Rule{
		Local:      IPAddress{IP: net.IPv4(127, 0, 0, 1).To4(), Port: 0},
		RemoteIP:   net.IPv4(10, 0, 0, 1).To4(),
		RemotePort: 80,
	}

	f, err := Start(c, rule)
	if err != nil {
		t.Fatal(err)
	}

	resolved := f.Rule()
	addr := f.Addr().String()

	f.Stop()
	f.Stop() // second stop is a no-op

	if f.Listening() {
		t.Error("still listening after stop")
	}
	if f.Addr() != nil {
		t.Error("addr not cleared after stop")
	}
	if conn, err := net.Dial("tcp", addr); err == nil {
		conn.Close()
		t.Error("dial succeeded after stop")
	}

	// the same rule value binds a fresh socket
	f2, err := Start(c, resolved)
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Stop()

	sendData := make([]byte, 64)
	rand.Read(sendData)
	if err := forwardRoundtrip(f2, sendData); err != nil {
		t.Error(err)
	}
}

func TestForwardConnectFailure(t *testing.T) {
	rule := Rule{
		Local:      IPAddress{IP: net.IPv4(127, 0, 0, 1).To4(), Port: 0},
		RemoteIP:   net.IPv4(10, 0, 0, 1).To4(),
		RemotePort: 80,
	}

	f, err := Start(errConnector{}, rule)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	conn, err := net.Dial("tcp", f.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// the proxy task closes the local connection after the failed connect
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("got %v, want EOF", err)
	}
}

func TestForwardShutdownDraining(t *testing.T) {
	echo := newEchoTestServer()
	echo.Start()
	defer echo.Close()

	rule := Rule{
		Local:      IPAddress{IP: net.IPv4(127, 0, 0, 1).To4(), Port: 0},
		RemoteIP:   echo.IP(),
		RemotePort: echo.Port(),
	}

	f, err := Start(HostConnector(), rule)
	if err != nil {
		t.Fatal(err)
	}

	addr := f.Addr().String()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	// make sure the proxy pair is established before stopping
	buf := make([]byte, 4)
	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}

	f.Stop()

	if conn, err := net.Dial("tcp", addr); err == nil {
		conn.Close()
		t.Error("dial succeeded after stop")
	}

	// the pre-stop connection keeps relaying
	if _, err := conn.Write([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "pong" {
		t.Errorf("got %q, want %q", buf, "pong")
	}
}

func BenchmarkForward(b *testing.B) {
	echo := newEchoTestServer()
	echo.Start()
	defer echo.Close()

	rule := Rule{
		Local:      IPAddress{IP: net.IPv4(127, 0, 0, 1).To4(), Port: 0},
		RemoteIP:   echo.IP(),
		RemotePort: echo.Port(),
	}

	f, err := Start(HostConnector(), rule)
	if err != nil {
		b.Fatal(err)
	}
	defer f.Stop()

	sendData := make([]byte, 128)
	rand.Read(sendData)

	for i := 0; i < b.N; i++ {
		if err := forwardRoundtrip(f, sendData); err != nil {
			b.Error(err)
		}
	}
}

func BenchmarkForwardParallel(b *testing.B) {
	echo := newEchoTestServer()
	echo.Start()
	defer echo.Close()

	rule := Rule{
		Local:      IPAddress{IP: net.IPv4(127, 0, 0, 1).To4(), Port: 0},
		RemoteIP:   echo.IP(),
		RemotePort: echo.Port(),
	}

	f, err := Start(HostConnector(), rule)
	if err != nil {
		b.Fatal(err)
	}
	defer f.Stop()

	sendData := make([]byte, 128)
	rand.Read(sendData)

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := forwardRoundtrip(f, sendData); err != nil {
				b.Error(err)
			}
		}
	})
}
