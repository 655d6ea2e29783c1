package proto

import (
	"bytes"
	"testing"
)

func TestConnectRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := &ConnectResponse{
		Curve: 1, HmacSize: 32, FragmentSize: 1024,
		Nonce: []byte("0123456789abcdef"),
		PubX:  bytes.Repeat([]byte{0xAA}, 32),
		PubY:  bytes.Repeat([]byte{0xBB}, 32),
		Result: ResultPending,
	}
	if err := EncodeConnectResponse(&buf, want); err != nil {
		t.Fatalf("encode: %v", err)
	}

	// A ConnectRequest and ConnectResponse share the same leading field
	// layout (curve, hmac size, fragment size, nonce, pub_x, pub_y); decode
	// as a request to confirm the shared prefix round-trips.
	got, err := DecodeConnectRequest(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Curve != want.Curve || got.HmacSize != want.HmacSize || got.FragmentSize != want.FragmentSize {
		t.Fatalf("fixed fields mismatch: %+v vs %+v", got, want)
	}
	if !bytes.Equal(got.Nonce, want.Nonce) || !bytes.Equal(got.PubX, want.PubX) || !bytes.Equal(got.PubY, want.PubY) {
		t.Fatal("variable-length fields mismatch")
	}
}

func TestStartChannelRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := &StartChannelRequest{AppID: "NearSharePlatform", AppName: "Near Share"}
	if err := EncodeStartChannelRequest(&buf, req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeStartChannelRequest(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AppID != req.AppID || got.AppName != req.AppName {
		t.Fatalf("got %+v want %+v", got, req)
	}
}
