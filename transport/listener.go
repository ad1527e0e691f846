package transport

import (
	"net"

	reuseport "github.com/kavu/go_reuseport"
)

// Listen opens a tcp listener on addr. With reuse set the socket gets
// SO_REUSEPORT so a new process can bind the same address during upgrades.
func Listen(addr string, reuse bool) (net.Listener, error) {
	if reuse {
		return reuseport.Listen("tcp", addr)
	}

	return net.Listen("tcp", addr)
}
