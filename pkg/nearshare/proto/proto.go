// Package proto decodes and encodes the fixed-shape Connect and Control
// message bodies exchanged during session setup: key agreement, device
// authentication, upgrade refusal, auth completion, device info, and
// channel start. Near Share application traffic (Session-type messages) is
// carried as a ValueSet instead and is handled by pkg/nearshare/app.
package proto

import (
	"io"

	"github.com/junbin-yang/nearshare-go/pkg/wire"
)

// Kind tags the shape of a Control-type message body; CommonHeader alone
// does not distinguish a DeviceAuthRequest from a StartChannelRequest, both
// of which are carried under wire.TypeControl.
type Kind uint32

const (
	KindDeviceAuthRequest         Kind = 1
	KindDeviceAuthResponse        Kind = 2
	KindUserDeviceAuthRequest     Kind = 3
	KindUserDeviceAuthResponse    Kind = 4
	KindUpgradeRequest            Kind = 5
	KindUpgradeFailure            Kind = 6
	KindAuthDoneRequest           Kind = 7
	KindAuthDoneResponse          Kind = 8
	KindDeviceInfoMessage         Kind = 9
	KindDeviceInfoResponseMessage Kind = 10
	KindStartChannelRequest       Kind = 11
	KindStartChannelResponse      Kind = 12
)

// ReadKind reads the leading Kind discriminant of a Control-type body.
func ReadKind(r io.Reader) (Kind, error) {
	v, err := wire.ReadUint32(r)
	return Kind(v), err
}

// WriteKind writes the leading Kind discriminant of a Control-type body.
func WriteKind(w io.Writer, k Kind) error {
	return wire.WriteUint32(w, uint32(k))
}

// ConnectRequest is the Connect-type body a peer opens a session with.
type ConnectRequest struct {
	Curve        uint16
	HmacSize     uint16
	FragmentSize uint32
	Nonce        []byte
	PubX         []byte
	PubY         []byte
}

// DecodeConnectRequest parses a ConnectRequest body (no leading Kind: the
// Connect message type is unambiguous in either direction).
func DecodeConnectRequest(r io.Reader) (*ConnectRequest, error) {
	m := &ConnectRequest{}
	var err error
	if m.Curve, err = wire.ReadUint16(r); err != nil {
		return nil, err
	}
	if m.HmacSize, err = wire.ReadUint16(r); err != nil {
		return nil, err
	}
	if m.FragmentSize, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	if m.Nonce, err = wire.ReadPayload(r); err != nil {
		return nil, err
	}
	if m.PubX, err = wire.ReadPayload(r); err != nil {
		return nil, err
	}
	if m.PubY, err = wire.ReadPayload(r); err != nil {
		return nil, err
	}
	return m, nil
}

// ConnectResponse is the unencrypted reply to ConnectRequest.
type ConnectResponse struct {
	Curve        uint16
	HmacSize     uint16
	FragmentSize uint32
	Nonce        []byte
	PubX         []byte
	PubY         []byte
	Result       uint32
}

// Connect result codes. Success is never produced by this core: the
// handshake only ever completes via AuthDoneResponse, so a freshly opened
// session always answers Pending.
const (
	ResultSuccess uint32 = 0
	ResultPending uint32 = 1
)

// EncodeConnectResponse writes a ConnectResponse body.
func EncodeConnectResponse(w io.Writer, m *ConnectResponse) error {
	if err := wire.WriteUint16(w, m.Curve); err != nil {
		return err
	}
	if err := wire.WriteUint16(w, m.HmacSize); err != nil {
		return err
	}
	if err := wire.WriteUint32(w, m.FragmentSize); err != nil {
		return err
	}
	if err := wire.WritePayload(w, m.Nonce); err != nil {
		return err
	}
	if err := wire.WritePayload(w, m.PubX); err != nil {
		return err
	}
	if err := wire.WritePayload(w, m.PubY); err != nil {
		return err
	}
	return wire.WriteUint32(w, m.Result)
}

// DeviceAuth carries a certificate and a thumbprint proving possession of
// the matching nonce pair; the shape is identical for the Device/Device and
// User/User request/response exchanges.
type DeviceAuth struct {
	Certificate []byte
	Thumbprint  []byte
}

// DecodeDeviceAuth parses a DeviceAuth body.
func DecodeDeviceAuth(r io.Reader) (*DeviceAuth, error) {
	m := &DeviceAuth{}
	var err error
	if m.Certificate, err = wire.ReadPayload(r); err != nil {
		return nil, err
	}
	if m.Thumbprint, err = wire.ReadPayload(r); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeDeviceAuth writes a DeviceAuth body.
func EncodeDeviceAuth(w io.Writer, m *DeviceAuth) error {
	if err := wire.WritePayload(w, m.Certificate); err != nil {
		return err
	}
	return wire.WritePayload(w, m.Thumbprint)
}

// UpgradeFailure is always the reply to an UpgradeRequest; HResult is any
// non-zero value since this core never permits the Wi-Fi Direct upgrade.
type UpgradeFailure struct {
	HResult uint32
}

// EncodeUpgradeFailure writes an UpgradeFailure body.
func EncodeUpgradeFailure(w io.Writer, m *UpgradeFailure) error {
	return wire.WriteUint32(w, m.HResult)
}

// AuthDoneResponse replies to AuthDoneRequest; HResult 0 means success,
// which is the only value this core ever produces.
type AuthDoneResponse struct {
	HResult uint32
}

// EncodeAuthDoneResponse writes an AuthDoneResponse body.
func EncodeAuthDoneResponse(w io.Writer, m *AuthDoneResponse) error {
	return wire.WriteUint32(w, m.HResult)
}

// StartChannelRequest opens a new application channel inside an
// established session.
type StartChannelRequest struct {
	AppID   string
	AppName string
}

// EncodeStartChannelRequest writes a StartChannelRequest body.
func EncodeStartChannelRequest(w io.Writer, m *StartChannelRequest) error {
	if err := wire.WriteString(w, m.AppID); err != nil {
		return err
	}
	return wire.WriteString(w, m.AppName)
}

// DecodeStartChannelRequest parses a StartChannelRequest body.
func DecodeStartChannelRequest(r io.Reader) (*StartChannelRequest, error) {
	m := &StartChannelRequest{}
	var err error
	if m.AppID, err = wire.ReadString(r); err != nil {
		return nil, err
	}
	if m.AppName, err = wire.ReadString(r); err != nil {
		return nil, err
	}
	return m, nil
}

// StartChannelResponse replies with the allocated channel id, or a non-zero
// Result if the application id was not recognized.
type StartChannelResponse struct {
	Result    uint8
	ChannelID uint64
}

// EncodeStartChannelResponse writes a StartChannelResponse body.
func EncodeStartChannelResponse(w io.Writer, m *StartChannelResponse) error {
	if err := wire.WriteUint8(w, m.Result); err != nil {
		return err
	}
	return wire.WriteUint64(w, m.ChannelID)
}

// StartChannelCompatBytes is the literal payload of the fixed compatibility
// additional header every StartChannelResponse carries.
var StartChannelCompatBytes = []byte{0x30, 0x00, 0x00, 0x01}
