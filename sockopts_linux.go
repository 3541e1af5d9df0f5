package vpnkit

import "syscall"

// controlReuseAddr enables SO_REUSEADDR on the listening socket before
// bind, so a forward can rebind an address still in TIME_WAIT.
func controlReuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
