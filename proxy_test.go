package vpnkit

import (
	"crypto/rand"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestTransport(t *testing.T) {
	local, localPeer := net.Pipe()
	remote, remotePeer := net.Pipe()

	go func() {
		defer remotePeer.Close()
		io.Copy(remotePeer, remotePeer)
	}()

	type result struct {
		sent, received int64
		err            error
	}
	done := make(chan result, 1)
	go func() {
		sent, received, err := transport(localPeer, remote)
		done <- result{sent, received, err}
	}()

	sendData := make([]byte, 1024)
	rand.Read(sendData)

	if _, err := local.Write(sendData); err != nil {
		t.Fatal(err)
	}
	recv := make([]byte, len(sendData))
	if _, err := io.ReadFull(local, recv); err != nil {
		t.Fatal(err)
	}
	local.Close()

	select {
	case r := <-done:
		if r.err != nil {
			t.Errorf("transport error: %v", r.err)
		}
		if r.sent != 1024 || r.received != 1024 {
			t.Errorf("got %d sent, %d received, want 1024 each", r.sent, r.received)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("transport did not return")
	}
}

func TestTransportClosesSurvivor(t *testing.T) {
	local, localPeer := net.Pipe()
	remote, remotePeer := net.Pipe()

	done := make(chan struct{})
	go func() {
		transport(localPeer, remote)
		close(done)
	}()

	// the remote peer never reads or writes; closing the local side
	// must still unblock both relay directions
	local.Close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("transport did not return after local close")
	}

	remotePeer.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := remotePeer.Read(make([]byte, 1)); err == nil {
		t.Error("remote side still open after transport returned")
	}
}

func TestIsClosedConnError(t *testing.T) {
	for _, err := range []error{
		io.EOF,
		io.ErrClosedPipe,
		net.ErrClosed,
		&net.OpError{Op: "read", Err: net.ErrClosed},
		&net.OpError{Op: "write", Err: syscall.EPIPE},
		&net.OpError{Op: "read", Err: syscall.ECONNRESET},
	} {
		if !isClosedConnError(err) {
			t.Errorf("%v not recognized as a close error", err)
		}
	}

	for _, err := range []error{
		nil,
		errors.New("no route to host"),
		&net.OpError{Op: "read", Err: syscall.ECONNREFUSED},
	} {
		if isClosedConnError(err) {
			t.Errorf("%v wrongly recognized as a close error", err)
		}
	}
}

func TestSafeGoPanic(t *testing.T) {
	safeGo(func() {
		panic("boom")
	})

	// a panicking task must not take the process down with it
	done := make(chan struct{})
	safeGo(func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("goroutine did not run")
	}
}
