package valueset

import (
	"reflect"
	"testing"
)

func TestValueSetRoundTrip(t *testing.T) {
	vs := New()
	vs.SetString("ControlMessage", "StartRequest")
	vs.SetUint32("DataKind", 1)
	vs.SetUint64("BytesToSend", 250000)
	vs.SetBytes("DataBlob", []byte{1, 2, 3, 4, 5})
	vs.SetStringList("FileNames", []string{"a.bin"})

	data, err := EncodeBytes(vs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !reflect.DeepEqual(got.Keys(), vs.Keys()) {
		t.Fatalf("key order mismatch: got %v want %v", got.Keys(), vs.Keys())
	}

	s, err := got.GetString("ControlMessage")
	if err != nil || s != "StartRequest" {
		t.Fatalf("ControlMessage: got %q err %v", s, err)
	}
	dk, err := got.GetUint32("DataKind")
	if err != nil || dk != 1 {
		t.Fatalf("DataKind: got %d err %v", dk, err)
	}
	bts, err := got.GetUint64("BytesToSend")
	if err != nil || bts != 250000 {
		t.Fatalf("BytesToSend: got %d err %v", bts, err)
	}
	blob, err := got.GetBytes("DataBlob")
	if err != nil || len(blob) != 5 {
		t.Fatalf("DataBlob: got %v err %v", blob, err)
	}
	names, err := got.GetStringList("FileNames")
	if err != nil || len(names) != 1 || names[0] != "a.bin" {
		t.Fatalf("FileNames: got %v err %v", names, err)
	}

	reEncoded, err := EncodeBytes(got)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if string(reEncoded) != string(data) {
		t.Fatal("re-encoded bytes differ from original: ordering not preserved byte-for-byte")
	}
}

func TestGetWrongTagFails(t *testing.T) {
	vs := New()
	vs.SetUint32("DataKind", 1)
	if _, err := vs.GetString("DataKind"); err == nil {
		t.Fatal("expected tag-mismatch error")
	}
}

func TestGetMissingKeyFails(t *testing.T) {
	vs := New()
	if _, err := vs.GetUint32("missing"); err == nil {
		t.Fatal("expected error for missing key")
	}
}
