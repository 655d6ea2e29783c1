// Package valueset implements the ValueSet property bag: an ordered
// string-keyed dictionary of tagged values used as the payload language of
// the Near Share application layer.
//
// There is no general-purpose library for a closed-tag binary union, so
// encode/decode is hand-rolled over pkg/wire primitives, the same as the
// rest of the frame codec.
package valueset

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/junbin-yang/nearshare-go/pkg/wire"
)

// Tag is the value-set's closed set of recognized value tags.
type Tag uint8

const (
	TagUint32 Tag = 1
	TagUint64 Tag = 2
	TagString Tag = 3 // UTF-16LE, length-prefixed
	TagBytes  Tag = 4
	TagList   Tag = 5 // homogeneous list of any of the above
)

// ErrParse is wrapped by every malformed-value-set or tag-mismatch error.
var ErrParse = errors.New("valueset: parse error")

func parseErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}

// Value is a tagged union over the recognized value tags.
type Value struct {
	Tag    Tag
	U32    uint32
	U64    uint64
	Str    string
	Bytes  []byte
	List   []Value
}

func Uint32Value(v uint32) Value { return Value{Tag: TagUint32, U32: v} }
func Uint64Value(v uint64) Value { return Value{Tag: TagUint64, U64: v} }
func StringValue(v string) Value { return Value{Tag: TagString, Str: v} }
func BytesValue(v []byte) Value  { return Value{Tag: TagBytes, Bytes: v} }
func ListValue(elemTag Tag, vs []Value) Value {
	return Value{Tag: TagList, U32: uint32(elemTag), List: vs}
}

// entry pairs a key with its value. ValueSet does not use it: insertion
// order is kept in ValueSet.order alongside the key->value map.
type entry struct {
	key   string
	value Value
}

// ValueSet is the ordered key/value property bag. The zero value is not
// usable; use New.
type ValueSet struct {
	order   []string
	entries map[string]Value
}

// New returns an empty ValueSet.
func New() *ValueSet {
	return &ValueSet{entries: make(map[string]Value)}
}

// Set inserts or updates key, preserving its original position on update.
func (vs *ValueSet) Set(key string, v Value) {
	if _, exists := vs.entries[key]; !exists {
		vs.order = append(vs.order, key)
	}
	vs.entries[key] = v
}

// SetUint32 is shorthand for Set(key, Uint32Value(v)).
func (vs *ValueSet) SetUint32(key string, v uint32) { vs.Set(key, Uint32Value(v)) }

// SetUint64 is shorthand for Set(key, Uint64Value(v)).
func (vs *ValueSet) SetUint64(key string, v uint64) { vs.Set(key, Uint64Value(v)) }

// SetString is shorthand for Set(key, StringValue(v)).
func (vs *ValueSet) SetString(key string, v string) { vs.Set(key, StringValue(v)) }

// SetBytes is shorthand for Set(key, BytesValue(v)).
func (vs *ValueSet) SetBytes(key string, v []byte) { vs.Set(key, BytesValue(v)) }

// SetStringList is shorthand for a TagString-elemented TagList value.
func (vs *ValueSet) SetStringList(key string, vals []string) {
	list := make([]Value, len(vals))
	for i, s := range vals {
		list[i] = StringValue(s)
	}
	vs.Set(key, ListValue(TagString, list))
}

// Get returns the raw tagged value for key.
func (vs *ValueSet) Get(key string) (Value, bool) {
	v, ok := vs.entries[key]
	return v, ok
}

// Has reports whether key is present.
func (vs *ValueSet) Has(key string) bool {
	_, ok := vs.entries[key]
	return ok
}

// Keys returns keys in insertion order.
func (vs *ValueSet) Keys() []string {
	return append([]string(nil), vs.order...)
}

func (vs *ValueSet) typedGet(key string, want Tag) (Value, error) {
	v, ok := vs.entries[key]
	if !ok {
		return Value{}, parseErr("key %q not present", key)
	}
	if v.Tag != want {
		return Value{}, parseErr("key %q has tag %d, want %d", key, v.Tag, want)
	}
	return v, nil
}

// GetUint32 returns the value for key as a uint32, failing ErrParse if the
// key is absent or tagged differently.
func (vs *ValueSet) GetUint32(key string) (uint32, error) {
	v, err := vs.typedGet(key, TagUint32)
	if err != nil {
		return 0, err
	}
	return v.U32, nil
}

// GetUint64 returns the value for key as a uint64.
func (vs *ValueSet) GetUint64(key string) (uint64, error) {
	v, err := vs.typedGet(key, TagUint64)
	if err != nil {
		return 0, err
	}
	return v.U64, nil
}

// GetString returns the value for key as a string.
func (vs *ValueSet) GetString(key string) (string, error) {
	v, err := vs.typedGet(key, TagString)
	if err != nil {
		return "", err
	}
	return v.Str, nil
}

// GetBytes returns the value for key as a byte slice.
func (vs *ValueSet) GetBytes(key string) ([]byte, error) {
	v, err := vs.typedGet(key, TagBytes)
	if err != nil {
		return nil, err
	}
	return v.Bytes, nil
}

// GetStringList returns the value for key as a string list, failing
// ErrParse if key is absent, not a list, or not a list of strings.
func (vs *ValueSet) GetStringList(key string) ([]string, error) {
	v, err := vs.typedGet(key, TagList)
	if err != nil {
		return nil, err
	}
	if Tag(v.U32) != TagString {
		return nil, parseErr("key %q is a list of tag %d, want string", key, Tag(v.U32))
	}
	out := make([]string, len(v.List))
	for i, e := range v.List {
		out[i] = e.Str
	}
	return out, nil
}

// Encode serializes vs in insertion order.
func Encode(w io.Writer, vs *ValueSet) error {
	if err := wire.WriteVarUint(w, uint64(len(vs.order))); err != nil {
		return err
	}
	for _, key := range vs.order {
		v := vs.entries[key]
		if err := wire.WriteString(w, key); err != nil {
			return err
		}
		if err := encodeValue(w, v); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(w io.Writer, v Value) error {
	if err := wire.WriteUint8(w, uint8(v.Tag)); err != nil {
		return err
	}
	switch v.Tag {
	case TagUint32:
		return wire.WriteUint32(w, v.U32)
	case TagUint64:
		return wire.WriteUint64(w, v.U64)
	case TagString:
		return wire.WriteUTF16String(w, v.Str)
	case TagBytes:
		return wire.WritePayload(w, v.Bytes)
	case TagList:
		elemTag := Tag(v.U32)
		if err := wire.WriteUint8(w, uint8(elemTag)); err != nil {
			return err
		}
		if err := wire.WriteVarUint(w, uint64(len(v.List))); err != nil {
			return err
		}
		for _, e := range v.List {
			if e.Tag != elemTag {
				return parseErr("heterogeneous list: element tag %d != list tag %d", e.Tag, elemTag)
			}
			if err := encodeValue(w, e); err != nil {
				return err
			}
		}
		return nil
	default:
		return parseErr("unknown tag %d", v.Tag)
	}
}

// Decode parses a ValueSet previously written by Encode.
func Decode(r io.Reader) (*ValueSet, error) {
	count, err := wire.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	vs := New()
	for i := uint64(0); i < count; i++ {
		key, err := wire.ReadString(r)
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(r)
		if err != nil {
			return nil, err
		}
		vs.Set(key, v)
	}
	return vs, nil
}

func decodeValue(r io.Reader) (Value, error) {
	tagByte, err := wire.ReadUint8(r)
	if err != nil {
		return Value{}, err
	}
	tag := Tag(tagByte)
	switch tag {
	case TagUint32:
		v, err := wire.ReadUint32(r)
		if err != nil {
			return Value{}, err
		}
		return Uint32Value(v), nil
	case TagUint64:
		v, err := wire.ReadUint64(r)
		if err != nil {
			return Value{}, err
		}
		return Uint64Value(v), nil
	case TagString:
		v, err := wire.ReadUTF16String(r)
		if err != nil {
			return Value{}, err
		}
		return StringValue(v), nil
	case TagBytes:
		v, err := wire.ReadPayload(r)
		if err != nil {
			return Value{}, err
		}
		return BytesValue(v), nil
	case TagList:
		elemTagByte, err := wire.ReadUint8(r)
		if err != nil {
			return Value{}, err
		}
		elemTag := Tag(elemTagByte)
		n, err := wire.ReadVarUint(r)
		if err != nil {
			return Value{}, err
		}
		list := make([]Value, n)
		for i := range list {
			e, err := decodeValue(r)
			if err != nil {
				return Value{}, err
			}
			if e.Tag != elemTag {
				return Value{}, parseErr("heterogeneous list on wire: element tag %d != list tag %d", e.Tag, elemTag)
			}
			list[i] = e
		}
		return ListValue(elemTag, list), nil
	default:
		return Value{}, parseErr("unknown tag %d on wire", tag)
	}
}

// EncodeBytes is a convenience wrapper returning the serialized bytes.
func EncodeBytes(vs *ValueSet) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, vs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBytes is a convenience wrapper parsing from a byte slice.
func DecodeBytes(data []byte) (*ValueSet, error) {
	return Decode(bytes.NewReader(data))
}
