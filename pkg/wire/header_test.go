package wire

import (
	"bytes"
	"testing"
)

func sampleHeader() *CommonHeader {
	h := &CommonHeader{
		Type:            TypeSession,
		Flags:           FlagShouldAck,
		SessionIdLocal:  0x0e,
		SequenceNumber:  7,
		RequestID:       42,
		ChannelId:       1,
		FragmentIndex:   0,
		FragmentCount:   1,
		AdditionalHeaders: []AdditionalHeader{
			{Type: AdditionalHeaderReplyTo, Bytes: []byte{1, 2, 3, 4}},
			{Type: 200, Bytes: []byte{0xAA, 0xBB}}, // unknown tag, must round-trip
		},
	}
	h.SetSessionHost(true)
	return h
}

func TestCommonHeaderRoundTrip(t *testing.T) {
	h := sampleHeader()
	h.PayloadSize = 0

	var buf bytes.Buffer
	if err := WriteCommonHeader(&buf, h); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadCommonHeader(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got.Type != h.Type || got.Flags != h.Flags || got.SessionIdLocal != h.SessionIdLocal {
		t.Fatalf("header mismatch: got %+v, want %+v", got, h)
	}
	if got.SessionHost() != true {
		t.Fatalf("expected session host flag to round-trip")
	}
	if len(got.AdditionalHeaders) != len(h.AdditionalHeaders) {
		t.Fatalf("additional headers count mismatch: got %d want %d", len(got.AdditionalHeaders), len(h.AdditionalHeaders))
	}
	for i, a := range h.AdditionalHeaders {
		if got.AdditionalHeaders[i].Type != a.Type || !bytes.Equal(got.AdditionalHeaders[i].Bytes, a.Bytes) {
			t.Fatalf("additional header %d mismatch: got %+v want %+v", i, got.AdditionalHeaders[i], a)
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	h := sampleHeader()
	body := []byte("hello near share")

	var buf bytes.Buffer
	if err := WriteFrame(&buf, h, body); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	f, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(f.Body, body) {
		t.Fatalf("body mismatch: got %q want %q", f.Body, body)
	}
	if f.Header.PayloadSize != uint32(len(body)) {
		t.Fatalf("payload size mismatch: got %d want %d", f.Header.PayloadSize, len(body))
	}
}

func TestFragmentIndexMustBeLessThanCount(t *testing.T) {
	h := sampleHeader()
	h.FragmentIndex = 2
	h.FragmentCount = 2

	var buf bytes.Buffer
	if err := WriteCommonHeader(&buf, h); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadCommonHeader(&buf); err == nil {
		t.Fatal("expected error for fragment index >= count")
	}
}

func TestStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteString(&buf, "https://example.com"); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadString(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "https://example.com" {
		t.Fatalf("got %q", got)
	}
}

func TestUTF16StringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := "a.bin 文件"
	if err := WriteUTF16String(&buf, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadUTF16String(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
