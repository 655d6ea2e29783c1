package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds the 16-bit big-endian frame length prefix.
const MaxFrameSize = 0xFFFF

// Frame is a fully parsed CommonHeader plus its raw (possibly still
// encrypted) body bytes.
type Frame struct {
	Header *CommonHeader
	Body   []byte
}

// ReadFrame reads one length-prefixed frame: a 16-bit big-endian length
// followed by a CommonHeader and body totalling that length.
func ReadFrame(r io.Reader) (*Frame, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	total := binary.BigEndian.Uint16(lb[:])

	buf := make([]byte, total)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	br := bytes.NewReader(buf)
	header, err := ReadCommonHeader(br)
	if err != nil {
		return nil, fmt.Errorf("wire: parse header: %w", err)
	}

	body := make([]byte, br.Len())
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}
	if uint32(len(body)) != header.PayloadSize {
		return nil, malformed("declared payload size %d, got %d bytes", header.PayloadSize, len(body))
	}

	return &Frame{Header: header, Body: body}, nil
}

// WriteFrame serializes header (with PayloadSize back-patched to len(body))
// followed by body, wrapped in the 16-bit big-endian length prefix.
func WriteFrame(w io.Writer, header *CommonHeader, body []byte) error {
	header.PayloadSize = uint32(len(body))

	var hb bytes.Buffer
	if err := WriteCommonHeader(&hb, header); err != nil {
		return err
	}

	total := hb.Len() + len(body)
	if total > MaxFrameSize {
		return malformed("frame too large: %d bytes", total)
	}

	var lb [2]byte
	binary.BigEndian.PutUint16(lb[:], uint16(total))
	if _, err := w.Write(lb[:]); err != nil {
		return err
	}
	if _, err := w.Write(hb.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}
