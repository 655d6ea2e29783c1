package transport

import (
	"net"
	"testing"

	"github.com/junbin-yang/nearshare-go/pkg/nearshare/session"
	"github.com/junbin-yang/nearshare-go/pkg/platform"
)

// TestDialReceiverServesConnectHandshake drives a handshake through
// DialReceiver from the dialing side: a raw listener stands in for the peer
// that writes the ConnectRequest frame and reads the ConnectResponse, the
// same way peerConn does against ServeConn in transport_test.go.
func TestDialReceiverServesConnectHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	peerDone := make(chan struct{})
	go func() {
		defer close(peerDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		peer := newPeerConn(t, conn)
		_, _ = peer.connect()
	}()

	dialHost := session.NewHost(platform.NewMemoryHandler(), []byte("dial-cert"))
	done := make(chan error, 1)
	go func() { done <- DialReceiver(ln.Addr().String(), "dial-peer", dialHost) }()

	<-peerDone
	if dialHost.Registry.Len() != 1 {
		t.Fatalf("expected one session registered after handshake, got %d", dialHost.Registry.Len())
	}

	ln.Close()
	<-done
}
