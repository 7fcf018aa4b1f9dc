//go:build unix

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSocketOptions lets the listener share the port with a restarting
// instance and allows sends to the broadcast address.
func setSocketOptions(network, address string, c syscall.RawConn) error {
	var operr error
	err := c.Control(func(fd uintptr) {
		operr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if operr != nil {
			return
		}
		operr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return operr
}
