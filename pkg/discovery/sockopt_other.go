//go:build !unix

package discovery

import "syscall"

// The runtime already enables broadcast on UDP sockets here.
func setSocketOptions(network, address string, c syscall.RawConn) error {
	return nil
}
