// Package session implements the per-peer CDP session state machine:
// Connect, mutual device authentication, channel setup, and the dispatch of
// established-session traffic to channels.
package session

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/junbin-yang/nearshare-go/pkg/cryptor"
	log "github.com/junbin-yang/nearshare-go/pkg/utils/logger"
	"github.com/junbin-yang/nearshare-go/pkg/nearshare/channel"
	"github.com/junbin-yang/nearshare-go/pkg/nearshare/nserr"
	"github.com/junbin-yang/nearshare-go/pkg/nearshare/proto"
	"github.com/junbin-yang/nearshare-go/pkg/reassembly"
	"github.com/junbin-yang/nearshare-go/pkg/wire"
)

// State is a position in the session handshake state machine.
type State int

const (
	AwaitingConnectRequest State = iota
	AwaitingAuth
	AwaitingAuthDone
	Established
	Disposed
)

func (s State) String() string {
	switch s {
	case AwaitingConnectRequest:
		return "AwaitingConnectRequest"
	case AwaitingAuth:
		return "AwaitingAuth"
	case AwaitingAuthDone:
		return "AwaitingAuthDone"
	case Established:
		return "Established"
	case Disposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// UpgradeRefusedHResult is the non-zero HResult this core always answers an
// UpgradeRequest with, since Wi-Fi Direct upgrade is never supported.
const UpgradeRefusedHResult uint32 = 0x80004005 // E_FAIL

// Session is one authenticated, encrypted context with a remote peer. It
// owns its cryptor, its channel registry, and its reassembly table; the
// session registry holds only a non-owning lookup entry.
type Session struct {
	LocalID  uint32
	RemoteID uint32
	Device   string

	host     *Host
	conn     Conn
	registry *Registry

	mu            sync.Mutex
	state         State
	disposed      bool
	keyPair       *cryptor.KeyPair
	remoteNonce   []byte
	remotePubX    []byte
	remotePubY    []byte
	deviceAuthOK  bool
	userAuthOK    bool
	crypt         *cryptor.Cryptor
	outSeq        uint32

	reasm    *reassembly.Table
	channels *channel.Registry

	writeMu sync.Mutex
}

func newSession(localID, remoteID uint32, device string, host *Host, conn Conn, registry *Registry) *Session {
	kp, err := cryptor.GenerateKeyPair()
	if err != nil {
		// crypto/rand failure is not a condition this core can recover
		// from; the session is unusable: a ConnectRequest fails fast on
		// the missing key pair, and every other request on s.crypt being nil.
		log.Errorf("session: failed to generate local key pair: %v", err)
	}
	return &Session{
		LocalID:  localID,
		RemoteID: remoteID,
		Device:   device,
		host:     host,
		conn:     conn,
		registry: registry,
		state:    AwaitingConnectRequest,
		keyPair:  kp,
		reasm:    reassembly.NewTable(),
		channels: channel.NewRegistry(),
	}
}

// State reports the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsDisposed reports whether the session has been torn down.
func (s *Session) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose tears the session down: closes every channel, removes the
// session from its registry, and closes the transport connection. Safe to
// call more than once and from any goroutine.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.state = Disposed
	s.mu.Unlock()

	s.channels.CloseAll()
	s.registry.remove(s.LocalID)
	_ = s.conn.Close()
}

func (s *Session) fail(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	log.Warnf("session %d: %v", s.LocalID, err)
	s.Dispose()
	return err
}

// Receive is the single entry point a transport reader calls for every
// inbound frame belonging to this session. Connect and Control messages are
// handled inline; completed Session-type messages are handed off to a
// background goroutine so the caller never blocks on application logic.
func (s *Session) Receive(header *wire.CommonHeader, rawBody []byte) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == Disposed {
		return nserr.ErrDisposed
	}

	switch header.Type {
	case wire.TypeConnect:
		return s.handleConnect(state, header, rawBody)
	case wire.TypeReliabilityResponse:
		return nil // always benign
	case wire.TypeControl:
		return s.handleControl(state, header, rawBody)
	case wire.TypeSession:
		return s.handleSessionMessage(state, header, rawBody)
	case wire.TypeAck:
		return nil // no reply-to-a-reply
	default:
		log.Warnf("session %d: ignoring unrecognized message type %d in state %s", s.LocalID, header.Type, state)
		return nil
	}
}

func (s *Session) handleConnect(state State, header *wire.CommonHeader, body []byte) error {
	if state == Established {
		log.Warnf("session %d: ignoring ConnectRequest in state %s", s.LocalID, state)
		return nil
	}
	if state != AwaitingConnectRequest {
		return s.fail("ConnectRequest received in state %s", state)
	}
	if s.keyPair == nil {
		return s.fail("no local key pair")
	}

	req, err := proto.DecodeConnectRequest(bytes.NewReader(body))
	if err != nil {
		return s.fail("malformed ConnectRequest: %v", err)
	}

	secret, err := s.keyPair.SharedSecret(req.PubX, req.PubY)
	if err != nil {
		return s.fail("ECDH with remote public point failed: %v", err)
	}
	c, err := cryptor.New(secret)
	if err != nil {
		return s.fail("deriving cryptor: %v", err)
	}

	s.mu.Lock()
	s.remoteNonce = req.Nonce
	s.remotePubX = req.PubX
	s.remotePubY = req.PubY
	s.crypt = c
	s.state = AwaitingAuth
	s.mu.Unlock()

	px, py := s.keyPair.PublicPoint()
	resp := &proto.ConnectResponse{
		Curve:        req.Curve,
		HmacSize:     req.HmacSize,
		FragmentSize: req.FragmentSize,
		Nonce:        s.keyPair.Nonce,
		PubX:         px,
		PubY:         py,
		Result:       proto.ResultPending,
	}

	var buf bytes.Buffer
	if err := proto.EncodeConnectResponse(&buf, resp); err != nil {
		return s.fail("encoding ConnectResponse: %v", err)
	}
	return s.writeUnencrypted(s.newHeader(wire.TypeConnect, 0, 0), buf.Bytes())
}

func (s *Session) handleControl(state State, header *wire.CommonHeader, rawBody []byte) error {
	if state == AwaitingConnectRequest {
		return s.fail("Control message received before ConnectRequest")
	}

	plain, err := s.decrypt(header, rawBody)
	if err != nil {
		return s.fail("decrypting Control message: %v", err)
	}
	body := bytes.NewReader(plain)

	kind, err := proto.ReadKind(body)
	if err != nil {
		return s.fail("malformed Control message: %v", err)
	}

	switch kind {
	case proto.KindDeviceAuthRequest:
		return s.handleDeviceAuth(state, header, body, false)
	case proto.KindUserDeviceAuthRequest:
		return s.handleDeviceAuth(state, header, body, true)
	case proto.KindUpgradeRequest:
		return s.handleUpgradeRequest(header)
	case proto.KindAuthDoneRequest:
		return s.handleAuthDoneRequest(state, header)
	case proto.KindDeviceInfoMessage:
		return s.handleDeviceInfoMessage(state, header)
	case proto.KindStartChannelRequest:
		return s.handleStartChannelRequest(state, header, body)
	default:
		if state == Established {
			log.Warnf("session %d: ignoring unrecognized Control kind %d in state %s", s.LocalID, kind, state)
			return nil
		}
		return s.fail("unexpected Control kind %d in state %s", kind, state)
	}
}

func (s *Session) handleDeviceAuth(state State, header *wire.CommonHeader, body io.Reader, user bool) error {
	if state != AwaitingAuth {
		return s.fail("device auth request received in state %s", state)
	}

	m, err := proto.DecodeDeviceAuth(body)
	if err != nil {
		return s.fail("malformed device auth request: %v", err)
	}

	if !cryptor.VerifyThumbprint(s.remoteNonce, s.keyPair.Nonce, m.Certificate, m.Thumbprint) {
		return s.fail("%w: thumbprint mismatch", nserr.ErrAuth)
	}

	reply := &proto.DeviceAuth{
		Certificate: s.host.LocalCertificate,
		Thumbprint:  cryptor.Thumbprint(s.keyPair.Nonce, s.remoteNonce, s.host.LocalCertificate),
	}

	respKind := proto.KindDeviceAuthResponse
	if user {
		respKind = proto.KindUserDeviceAuthResponse
	}

	var buf bytes.Buffer
	if err := proto.WriteKind(&buf, respKind); err != nil {
		return s.fail("encoding device auth response: %v", err)
	}
	if err := proto.EncodeDeviceAuth(&buf, reply); err != nil {
		return s.fail("encoding device auth response: %v", err)
	}

	s.mu.Lock()
	if user {
		s.userAuthOK = true
	} else {
		s.deviceAuthOK = true
	}
	bothDone := s.deviceAuthOK && s.userAuthOK
	if bothDone {
		s.state = AwaitingAuthDone
	}
	s.mu.Unlock()

	return s.writeEncrypted(header, wire.TypeControl, 0, nil, buf.Bytes())
}

func (s *Session) handleUpgradeRequest(header *wire.CommonHeader) error {
	var buf bytes.Buffer
	if err := proto.WriteKind(&buf, proto.KindUpgradeFailure); err != nil {
		return err
	}
	if err := proto.EncodeUpgradeFailure(&buf, &proto.UpgradeFailure{HResult: UpgradeRefusedHResult}); err != nil {
		return err
	}
	return s.writeEncrypted(header, wire.TypeControl, 0, nil, buf.Bytes())
}

func (s *Session) handleAuthDoneRequest(state State, header *wire.CommonHeader) error {
	if state != AwaitingAuthDone {
		return s.fail("AuthDoneRequest received in state %s", state)
	}

	var buf bytes.Buffer
	if err := proto.WriteKind(&buf, proto.KindAuthDoneResponse); err != nil {
		return err
	}
	if err := proto.EncodeAuthDoneResponse(&buf, &proto.AuthDoneResponse{HResult: 0}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = Established
	s.mu.Unlock()

	return s.writeEncrypted(header, wire.TypeControl, 0, nil, buf.Bytes())
}

func (s *Session) handleDeviceInfoMessage(state State, header *wire.CommonHeader) error {
	if state != Established {
		return s.fail("DeviceInfoMessage received in state %s", state)
	}
	var buf bytes.Buffer
	if err := proto.WriteKind(&buf, proto.KindDeviceInfoResponseMessage); err != nil {
		return err
	}
	return s.writeEncrypted(header, wire.TypeControl, 0, nil, buf.Bytes())
}

func (s *Session) handleStartChannelRequest(state State, header *wire.CommonHeader, body io.Reader) error {
	if state != Established {
		return s.fail("StartChannelRequest received in state %s", state)
	}

	req, err := proto.DecodeStartChannelRequest(body)
	if err != nil {
		return s.fail("malformed StartChannelRequest: %v", err)
	}

	send := func(channelID uint64, requestID uint32, additional []wire.AdditionalHeader, respBody []byte) error {
		h := s.newHeader(wire.TypeSession, channelID, requestID)
		h.AdditionalHeaders = additional
		return s.writeEncryptedHeader(h, respBody)
	}
	closeSession := func() { s.Dispose() }

	ctx := channel.AppContext{AppName: req.AppName, DeviceName: s.Device, Platform: s.host.Platform}
	ch, openErr := s.channels.Open(req.AppID, ctx, s.host.Factory, send, closeSession)

	resp := &proto.StartChannelResponse{Result: 0}
	if openErr != nil {
		resp.Result = 1
	} else {
		resp.ChannelID = ch.ID
	}

	var buf bytes.Buffer
	if err := proto.WriteKind(&buf, proto.KindStartChannelResponse); err != nil {
		return err
	}
	if err := proto.EncodeStartChannelResponse(&buf, resp); err != nil {
		return err
	}

	replyTo := make([]byte, 4)
	binary.LittleEndian.PutUint32(replyTo, header.RequestID)
	additional := []wire.AdditionalHeader{
		{Type: wire.AdditionalHeaderReplyTo, Bytes: replyTo},
		{Type: wire.AdditionalHeaderStartChannelCompat, Bytes: proto.StartChannelCompatBytes},
	}

	h := s.newHeader(wire.TypeControl, header.ChannelId, 0)
	h.AdditionalHeaders = additional
	return s.writeEncryptedHeader(h, buf.Bytes())
}

func (s *Session) handleSessionMessage(state State, header *wire.CommonHeader, rawBody []byte) error {
	if state != Established {
		return s.fail("Session message received in state %s", state)
	}

	plain, err := s.decrypt(header, rawBody)
	if err != nil {
		return s.fail("decrypting Session message: %v", err)
	}

	msg, err := s.reasm.AddFragment(header.SequenceNumber, header.FragmentIndex, header.FragmentCount, plain)
	if err != nil {
		return s.fail("reassembly: %v", err)
	}

	if header.Flags.Has(wire.FlagShouldAck) {
		if err := s.sendAck(header); err != nil {
			log.Warnf("session %d: sending ack: %v", s.LocalID, err)
		}
	}

	if !msg.IsComplete() {
		return nil
	}

	ch, ok := s.channels.Get(header.ChannelId)
	if !ok {
		log.Warnf("session %d: message for unknown channel %d", s.LocalID, header.ChannelId)
		s.reasm.Remove(header.SequenceNumber)
		return nil
	}

	// The reassembly entry stays live until the handler resolves, so a
	// duplicate final fragment arriving mid-dispatch can't reopen it and
	// trigger a second dispatch of the same message.
	full := msg.Bytes()
	go func() {
		defer s.reasm.Remove(header.SequenceNumber)
		if err := ch.Dispatch(header, full); err != nil {
			log.Errorf("session %d: application error on channel %d: %v", s.LocalID, header.ChannelId, err)
			s.Dispose()
		}
	}()
	return nil
}

func (s *Session) sendAck(header *wire.CommonHeader) error {
	h := s.newHeader(wire.TypeAck, header.ChannelId, header.RequestID)
	return s.writeEncryptedHeader(h, nil)
}

func (s *Session) decrypt(header *wire.CommonHeader, body []byte) ([]byte, error) {
	s.mu.Lock()
	c := s.crypt
	s.mu.Unlock()
	if c == nil {
		return nil, fmt.Errorf("no cryptor established")
	}
	r, err := c.Read(header, body)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// newHeader builds an outbound header with this session's id pair and the
// next sequence number in this direction.
func (s *Session) newHeader(msgType wire.MessageType, channelID uint64, requestID uint32) *wire.CommonHeader {
	s.mu.Lock()
	seq := s.outSeq
	s.outSeq++
	s.mu.Unlock()

	return &wire.CommonHeader{
		Type:            msgType,
		SessionIdLocal:  s.LocalID,
		SessionIdRemote: s.RemoteID,
		SequenceNumber:  seq,
		ChannelId:       channelID,
		RequestID:       requestID,
	}
}

func (s *Session) writeUnencrypted(header *wire.CommonHeader, body []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteFrame(header, body)
}

// writeEncrypted builds a reply header addressed the same way as the
// message it answers (channel id, no request-id correlation beyond what
// the caller supplies) and writes it through the session's cryptor.
func (s *Session) writeEncrypted(inReplyTo *wire.CommonHeader, msgType wire.MessageType, requestID uint32, additional []wire.AdditionalHeader, body []byte) error {
	h := s.newHeader(msgType, inReplyTo.ChannelId, requestID)
	h.AdditionalHeaders = additional
	return s.writeEncryptedHeader(h, body)
}

func (s *Session) writeEncryptedHeader(header *wire.CommonHeader, body []byte) error {
	s.mu.Lock()
	c := s.crypt
	s.mu.Unlock()
	if c == nil {
		return fmt.Errorf("no cryptor established")
	}

	wireBody, err := c.EncryptMessage(header, func(w io.Writer) error {
		_, err := w.Write(body)
		return err
	})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteFrame(header, wireBody)
}
