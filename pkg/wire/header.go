package wire

import (
	"bytes"
	"io"
)

// MessageType is the CommonHeader.Type discriminant.
type MessageType uint32

const (
	TypeConnect             MessageType = 0
	TypeControl             MessageType = 1
	TypeSession             MessageType = 2
	TypeReliabilityResponse MessageType = 3
	TypeAck                 MessageType = 4
)

// HeaderFlags is the CommonHeader.Flags bitset.
type HeaderFlags uint32

const (
	FlagShouldAck   HeaderFlags = 1 << 0
	FlagSessionHost HeaderFlags = 1 << 1
)

// Has reports whether all bits of want are set.
func (f HeaderFlags) Has(want HeaderFlags) bool { return f&want == want }

// remoteHostBit is the reserved top bit of the 32-bit remote half of
// SessionId that marks the sender as the session host.
const remoteHostBit = uint32(1) << 31

// AdditionalHeaderType is the tag of one additional-header entry.
type AdditionalHeaderType uint8

const (
	// AdditionalHeaderEnd terminates the additional-headers table.
	AdditionalHeaderEnd AdditionalHeaderType = 0
	// AdditionalHeaderReplyTo carries the RequestID of the message being replied to.
	AdditionalHeaderReplyTo AdditionalHeaderType = 1
	// AdditionalHeaderCorrelationVector carries the Near Share app's opaque
	// 12-byte correlation prefix; stripped before the application sees an
	// outbound header.
	AdditionalHeaderCorrelationVector AdditionalHeaderType = 2
	// AdditionalHeaderStartChannelCompat is the fixed StartChannelResponse
	// compatibility header: type=129, bytes=30 00 00 01.
	AdditionalHeaderStartChannelCompat AdditionalHeaderType = 129
)

// AdditionalHeader is one {type, bytes} entry in the additional-headers
// table. Unrecognized type tags are preserved verbatim on write.
type AdditionalHeader struct {
	Type  AdditionalHeaderType
	Bytes []byte
}

// CommonHeader is the outer frame present on every message.
type CommonHeader struct {
	Type              MessageType
	Flags             HeaderFlags
	SessionIdLocal    uint32
	SessionIdRemote   uint32 // top bit is the host flag; use SessionHost()/SetSessionHost()
	SequenceNumber    uint32
	RequestID         uint32
	ChannelId         uint64
	FragmentIndex     uint16
	FragmentCount     uint16
	PayloadSize       uint32
	AdditionalHeaders []AdditionalHeader
}

// SessionId returns the packed 64-bit session id: (local<<32)|remote.
func (h *CommonHeader) SessionId() uint64 {
	return uint64(h.SessionIdLocal)<<32 | uint64(h.SessionIdRemote)
}

// RemoteID masks off the reserved host-flag bit, yielding the bare remote id.
func (h *CommonHeader) RemoteID() uint32 {
	return h.SessionIdRemote &^ remoteHostBit
}

// SessionHost reports whether the sender identifies itself as the session
// host via the reserved top bit of the remote half.
func (h *CommonHeader) SessionHost() bool {
	return h.SessionIdRemote&remoteHostBit != 0
}

// SetSessionHost sets or clears the reserved host-flag bit, preserving the
// bare remote id.
func (h *CommonHeader) SetSessionHost(host bool) {
	if host {
		h.SessionIdRemote = h.RemoteID() | remoteHostBit
	} else {
		h.SessionIdRemote = h.RemoteID()
	}
}

// ReadCommonHeader parses a CommonHeader from r.
func ReadCommonHeader(r io.Reader) (*CommonHeader, error) {
	h := &CommonHeader{}

	typ, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	h.Type = MessageType(typ)

	flags, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	h.Flags = HeaderFlags(flags)

	if h.SessionIdLocal, err = ReadUint32(r); err != nil {
		return nil, err
	}
	if h.SessionIdRemote, err = ReadUint32(r); err != nil {
		return nil, err
	}
	if h.SequenceNumber, err = ReadUint32(r); err != nil {
		return nil, err
	}
	if h.RequestID, err = ReadUint32(r); err != nil {
		return nil, err
	}
	if h.ChannelId, err = ReadUint64(r); err != nil {
		return nil, err
	}
	if h.FragmentIndex, err = ReadUint16(r); err != nil {
		return nil, err
	}
	if h.FragmentCount, err = ReadUint16(r); err != nil {
		return nil, err
	}
	if h.PayloadSize, err = ReadUint32(r); err != nil {
		return nil, err
	}
	if h.FragmentCount != 0 && h.FragmentIndex >= h.FragmentCount {
		return nil, malformed("fragment index %d >= count %d", h.FragmentIndex, h.FragmentCount)
	}

	for {
		tag, err := ReadUint8(r)
		if err != nil {
			return nil, err
		}
		t := AdditionalHeaderType(tag)
		if t == AdditionalHeaderEnd {
			break
		}
		n, err := ReadVarUint(r)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		h.AdditionalHeaders = append(h.AdditionalHeaders, AdditionalHeader{Type: t, Bytes: buf})
	}

	return h, nil
}

// WriteCommonHeader serializes h, including its additional-headers table
// terminated by the End sentinel.
func WriteCommonHeader(w io.Writer, h *CommonHeader) error {
	if err := WriteUint32(w, uint32(h.Type)); err != nil {
		return err
	}
	if err := WriteUint32(w, uint32(h.Flags)); err != nil {
		return err
	}
	if err := WriteUint32(w, h.SessionIdLocal); err != nil {
		return err
	}
	if err := WriteUint32(w, h.SessionIdRemote); err != nil {
		return err
	}
	if err := WriteUint32(w, h.SequenceNumber); err != nil {
		return err
	}
	if err := WriteUint32(w, h.RequestID); err != nil {
		return err
	}
	if err := WriteUint64(w, h.ChannelId); err != nil {
		return err
	}
	if err := WriteUint16(w, h.FragmentIndex); err != nil {
		return err
	}
	if err := WriteUint16(w, h.FragmentCount); err != nil {
		return err
	}
	if err := WriteUint32(w, h.PayloadSize); err != nil {
		return err
	}
	for _, a := range h.AdditionalHeaders {
		if a.Type == AdditionalHeaderEnd {
			continue
		}
		if err := WriteUint8(w, uint8(a.Type)); err != nil {
			return err
		}
		if err := WriteVarUint(w, uint64(len(a.Bytes))); err != nil {
			return err
		}
		if _, err := w.Write(a.Bytes); err != nil {
			return err
		}
	}
	return WriteUint8(w, uint8(AdditionalHeaderEnd))
}

// SerializeCommonHeader returns the serialized bytes of h.
func SerializeCommonHeader(h *CommonHeader) []byte {
	var buf bytes.Buffer
	// WriteCommonHeader never returns an error writing into a bytes.Buffer.
	_ = WriteCommonHeader(&buf, h)
	return buf.Bytes()
}
