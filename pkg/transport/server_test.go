package transport

import (
	"net"
	"testing"
	"time"

	"github.com/junbin-yang/nearshare-go/pkg/platform"
	"github.com/junbin-yang/nearshare-go/pkg/nearshare/session"
)

func TestServerAcceptsAndServesConnectHandshake(t *testing.T) {
	host := session.NewHost(platform.NewMemoryHandler(), []byte("local-cert"))
	srv := NewServer(host)
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	peer := newPeerConn(t, conn)
	_, _ = peer.connect()

	if host.Registry.Len() != 1 {
		t.Fatalf("expected one session registered after accept, got %d", host.Registry.Len())
	}
}
