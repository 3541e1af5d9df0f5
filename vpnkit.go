package vpnkit

import (
	"time"
)

// Version is the vpnkit version.
const Version = "0.5.0"

// Debug is a flag that enables the debug log.
var Debug bool

var (
	// KeepAliveTime is the keep alive time period for TCP connection.
	KeepAliveTime = 180 * time.Second
	// DialTimeout is the timeout of dial.
	DialTimeout = 5 * time.Second
	// HandshakeTimeout is the timeout of handshake.
	HandshakeTimeout = 5 * time.Second
	// ConnectTimeout is the timeout for connecting to remote target.
	ConnectTimeout = 5 * time.Second
)
