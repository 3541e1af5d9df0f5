//go:build !linux
// +build !linux

package vpnkit

import "syscall"

func controlReuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
