//go:build !linux

package ipc

import (
	"errors"
	"net"
)

var errNoPeerCred = errors.New("peer credentials not supported on this platform")

// GetPeerCredentials is only implemented on Linux.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	return nil, errNoPeerCred
}

// VerifyPeerIsCurrentUser reports an error where peer credentials are not
// available; the server then relies on the socket permissions.
func VerifyPeerIsCurrentUser(conn net.Conn) (bool, error) {
	return false, errNoPeerCred
}
