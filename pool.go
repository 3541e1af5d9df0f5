package vpnkit

import (
	"sync"
)

var (
	smallBufferSize = 2 * 1024  // 2KB small buffer
	largeBufferSize = 32 * 1024 // 32KB large buffer
)

var (
	sPool = sync.Pool{
		New: func() interface{} {
			return make([]byte, smallBufferSize)
		},
	}
	lPool = sync.Pool{
		New: func() interface{} {
			return make([]byte, largeBufferSize)
		},
	}
)
