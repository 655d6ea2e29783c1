package transport

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/junbin-yang/nearshare-go/pkg/cryptor"
	"github.com/junbin-yang/nearshare-go/pkg/nearshare/proto"
	"github.com/junbin-yang/nearshare-go/pkg/nearshare/session"
	"github.com/junbin-yang/nearshare-go/pkg/platform"
	"github.com/junbin-yang/nearshare-go/pkg/wire"
)

// peerConn drives the remote side of a handshake directly over a net.Pipe
// half, writing and reading real wire frames the way an actual CDP peer
// would, exercising ServeConn end to end rather than calling Session methods
// directly (that is session_test.go's job).
type peerConn struct {
	t       *testing.T
	rw      net.Conn
	keyPair *cryptor.KeyPair
	cert    []byte
	crypt   *cryptor.Cryptor
}

func newPeerConn(t *testing.T, rw net.Conn) *peerConn {
	t.Helper()
	kp, err := cryptor.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate peer key pair: %v", err)
	}
	return &peerConn{t: t, rw: rw, keyPair: kp, cert: []byte("peer-cert")}
}

// clientLocalID is the nonzero id this peer names itself by in the
// SessionIdRemote field of its ConnectRequest, echoed back by the server in
// every subsequent reply's SessionIdRemote.
const clientLocalID = 7

func (p *peerConn) connect() (*wire.CommonHeader, *proto.ConnectRequest) {
	p.t.Helper()

	x, y := p.keyPair.PublicPoint()
	var body bytes.Buffer
	if err := proto.EncodeConnectResponse(&body, &proto.ConnectResponse{
		Curve: 1, HmacSize: uint16(cryptor.HMACSize), FragmentSize: 102400,
		Nonce: p.keyPair.Nonce, PubX: x, PubY: y, Result: proto.ResultPending,
	}); err != nil {
		p.t.Fatalf("encode ConnectRequest: %v", err)
	}

	header := &wire.CommonHeader{Type: wire.TypeConnect, SessionIdRemote: clientLocalID}
	if err := wire.WriteFrame(p.rw, header, body.Bytes()); err != nil {
		p.t.Fatalf("write ConnectRequest frame: %v", err)
	}

	reply := p.readFrame()
	resp, err := proto.DecodeConnectRequest(bytes.NewReader(reply.Body))
	if err != nil {
		p.t.Fatalf("decode ConnectResponse: %v", err)
	}

	secret, err := p.keyPair.SharedSecret(resp.PubX, resp.PubY)
	if err != nil {
		p.t.Fatalf("shared secret: %v", err)
	}
	c, err := cryptor.New(secret)
	if err != nil {
		p.t.Fatalf("cryptor: %v", err)
	}
	p.crypt = c

	return reply.Header, resp
}

func (p *peerConn) readFrame() *wire.Frame {
	p.t.Helper()
	p.rw.SetReadDeadline(time.Now().Add(5 * time.Second))
	f, err := wire.ReadFrame(p.rw)
	if err != nil {
		p.t.Fatalf("read frame: %v", err)
	}
	return f
}

func (p *peerConn) sendControl(localID, remoteID uint32, kind proto.Kind, encode func(*bytes.Buffer)) *wire.Frame {
	p.t.Helper()

	var body bytes.Buffer
	if err := proto.WriteKind(&body, kind); err != nil {
		p.t.Fatalf("write kind: %v", err)
	}
	encode(&body)

	header := &wire.CommonHeader{Type: wire.TypeControl, SessionIdLocal: localID, SessionIdRemote: remoteID}
	wireBody, err := p.crypt.EncryptMessage(header, func(w io.Writer) error {
		_, werr := w.Write(body.Bytes())
		return werr
	})
	if err != nil {
		p.t.Fatalf("encrypt control message: %v", err)
	}
	if err := wire.WriteFrame(p.rw, header, wireBody); err != nil {
		p.t.Fatalf("write control frame: %v", err)
	}

	return p.readFrame()
}

func (p *peerConn) decryptControl(f *wire.Frame) (proto.Kind, *bytes.Reader) {
	p.t.Helper()
	r, err := p.crypt.Read(f.Header, f.Body)
	if err != nil {
		p.t.Fatalf("decrypt reply: %v", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		p.t.Fatalf("read decrypted reply: %v", err)
	}
	body := bytes.NewReader(plain)
	kind, err := proto.ReadKind(body)
	if err != nil {
		p.t.Fatalf("read reply kind: %v", err)
	}
	return kind, body
}

func TestServeConnDrivesSessionToEstablished(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	host := session.NewHost(platform.NewMemoryHandler(), []byte("local-cert"))
	done := make(chan error, 1)
	go func() { done <- ServeConn(serverSide, "AA:BB:CC:DD:EE:FF", host) }()

	peer := newPeerConn(t, clientSide)
	connectHeader, connectResp := peer.connect()
	localID := connectHeader.SessionIdLocal
	remoteID := connectHeader.SessionIdRemote
	if remoteID != clientLocalID {
		t.Fatalf("expected ConnectResponse to echo back remote id %d, got %d", clientLocalID, remoteID)
	}

	if host.Registry.Len() != 1 {
		t.Fatalf("expected one registered session, got %d", host.Registry.Len())
	}

	reply := peer.sendControl(localID, remoteID, proto.KindDeviceAuthRequest, func(buf *bytes.Buffer) {
		tp := cryptor.Thumbprint(peer.keyPair.Nonce, connectResp.Nonce, peer.cert)
		_ = proto.EncodeDeviceAuth(buf, &proto.DeviceAuth{Certificate: peer.cert, Thumbprint: tp})
	})
	if kind, _ := peer.decryptControl(reply); kind != proto.KindDeviceAuthResponse {
		t.Fatalf("expected DeviceAuthResponse, got kind %d", kind)
	}

	reply = peer.sendControl(localID, remoteID, proto.KindUserDeviceAuthRequest, func(buf *bytes.Buffer) {
		tp := cryptor.Thumbprint(peer.keyPair.Nonce, connectResp.Nonce, peer.cert)
		_ = proto.EncodeDeviceAuth(buf, &proto.DeviceAuth{Certificate: peer.cert, Thumbprint: tp})
	})
	if kind, _ := peer.decryptControl(reply); kind != proto.KindUserDeviceAuthResponse {
		t.Fatalf("expected UserDeviceAuthResponse, got kind %d", kind)
	}

	reply = peer.sendControl(localID, remoteID, proto.KindAuthDoneRequest, func(buf *bytes.Buffer) {})
	kind, body := peer.decryptControl(reply)
	if kind != proto.KindAuthDoneResponse {
		t.Fatalf("expected AuthDoneResponse, got kind %d", kind)
	}
	hresult, err := wire.ReadUint32(body)
	if err != nil || hresult != 0 {
		t.Fatalf("expected AuthDoneResponse HResult=0, got %d, err=%v", hresult, err)
	}

	clientSide.Close()
	if err := <-done; err != nil {
		t.Fatalf("ServeConn returned error after peer closed: %v", err)
	}
}
