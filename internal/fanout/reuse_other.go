//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package fanout

import "syscall"

// reuseControl is a no-op where SO_REUSEPORT is not available.
func reuseControl(network, address string, rc syscall.RawConn) error {
	return nil
}
