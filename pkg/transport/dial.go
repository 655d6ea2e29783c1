package transport

import (
	"fmt"
	"net"

	"github.com/junbin-yang/nearshare-go/pkg/nearshare/session"
)

// DialReceiver dials addr over TCP and serves the resulting connection with
// ServeConn, blocking until the peer disconnects or a non-recoverable frame
// error occurs. It exists alongside the net.Listener-based Server for cases
// where this core needs to originate the TCP connection itself rather than
// accept one (bench harnesses and integration tests that want to exercise a
// single session without standing up a full Server).
func DialReceiver(addr, device string, host *session.Host) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	defer conn.Close()

	return ServeConn(conn, device, host)
}
