// Package wire implements the CDP Near Share frame codec: little-endian
// integer primitives, length-prefixed strings, GUIDs, the "payload"
// primitive, and the tagged additional-headers table, plus the outer
// length-prefixed frame read/write used by pkg/transport.
//
// Hand-rolled on top of encoding/binary rather than a reflection-based
// codec, matching the field-by-field binary.Read/binary.Write style used
// elsewhere for wire structures.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"
)

// ErrMalformed is wrapped by every parse failure in this package.
var ErrMalformed = errors.New("wire: malformed input")

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// ReadUint8 reads a single byte.
func ReadUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteUint8 writes a single byte.
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

// ReadUint16 reads a little-endian uint16.
func ReadUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// WriteUint16 writes a little-endian uint16.
func WriteUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadUint32 reads a little-endian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// WriteUint32 writes a little-endian uint32.
func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadUint64 reads a little-endian uint64.
func ReadUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// WriteUint64 writes a little-endian uint64.
func WriteUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadString reads a uint16-length-prefixed UTF-8 string.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadUint16(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteString writes a uint16-length-prefixed UTF-8 string.
func WriteString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return malformed("string too long: %d bytes", len(s))
	}
	if err := WriteUint16(w, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadUTF16String reads a uint16-length-prefixed (in UTF-16 code units)
// little-endian UTF-16LE string.
func ReadUTF16String(r io.Reader) (string, error) {
	n, err := ReadUint16(r)
	if err != nil {
		return "", err
	}
	units := make([]uint16, n)
	for i := range units {
		u, err := ReadUint16(r)
		if err != nil {
			return "", err
		}
		units[i] = u
	}
	return string(utf16.Decode(units)), nil
}

// WriteUTF16String writes s as a uint16-length-prefixed UTF-16LE string.
func WriteUTF16String(w io.Writer, s string) error {
	units := utf16.Encode([]rune(s))
	if len(units) > 0xFFFF {
		return malformed("string too long: %d units", len(units))
	}
	if err := WriteUint16(w, uint16(len(units))); err != nil {
		return err
	}
	for _, u := range units {
		if err := WriteUint16(w, u); err != nil {
			return err
		}
	}
	return nil
}

// GUID is a 16-byte value carried verbatim (no byte-order reinterpretation).
type GUID [16]byte

// ReadGUID reads a 16-byte GUID.
func ReadGUID(r io.Reader) (GUID, error) {
	var g GUID
	if _, err := io.ReadFull(r, g[:]); err != nil {
		return g, err
	}
	return g, nil
}

// WriteGUID writes a 16-byte GUID.
func WriteGUID(w io.Writer, g GUID) error {
	_, err := w.Write(g[:])
	return err
}

// ReadPayload reads a 32-bit big-endian length followed by that many bytes.
func ReadPayload(r io.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lb[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WritePayload writes a 32-bit big-endian length followed by data.
func WritePayload(w io.Writer, data []byte) error {
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(data)))
	if _, err := w.Write(lb[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadVarUint reads a base-128 varint (LEB128, unsigned).
func ReadVarUint(r io.Reader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := ReadUint8(r)
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, malformed("varint too long")
		}
	}
}

// WriteVarUint writes v as a base-128 varint (LEB128, unsigned).
func WriteVarUint(w io.Writer, v uint64) error {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		if err := WriteUint8(w, b); err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}
}
