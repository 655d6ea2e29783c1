package app

import (
	"bytes"
	"sync"
	"testing"

	"github.com/junbin-yang/nearshare-go/pkg/nearshare/channel"
	"github.com/junbin-yang/nearshare-go/pkg/platform"
	"github.com/junbin-yang/nearshare-go/pkg/valueset"
	"github.com/junbin-yang/nearshare-go/pkg/wire"
)

// memorySink is an io.WriterAt backed by a growable in-memory buffer, for
// asserting on file contents written by FetchDataResponse handling.
type memorySink struct {
	mu   sync.Mutex
	data []byte
}

func (s *memorySink) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := int(off) + len(p)
	if end > len(s.data) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	copy(s.data[off:], p)
	return len(p), nil
}

func (s *memorySink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// outboundRecorder captures every (requestID, ValueSet) this application
// sends, standing in for the session's SendFunc.
type outboundRecorder struct {
	mu  sync.Mutex
	out []outbound
}

type outbound struct {
	requestID uint32
	vs        *valueset.ValueSet
}

func (r *outboundRecorder) sendFunc(cv []byte) channel.SendFunc {
	return func(channelID uint64, requestID uint32, additional []wire.AdditionalHeader, body []byte) error {
		if !bytes.Equal(body[:correlationVectorSize], cv) {
			return errMismatchedCV
		}
		vs, err := valueset.DecodeBytes(body[correlationVectorSize:])
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.out = append(r.out, outbound{requestID: requestID, vs: vs})
		r.mu.Unlock()
		return nil
	}
}

func (r *outboundRecorder) messages() []outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outbound(nil), r.out...)
}

var errMismatchedCV = &cvError{}

type cvError struct{}

func (*cvError) Error() string { return "correlation vector mismatch" }

func openTestChannel(t *testing.T, cv []byte) (*channel.Channel, *outboundRecorder, *platform.MemoryHandler, *bool) {
	t.Helper()
	factory := channel.NewFactory()
	Register(factory)

	reg := channel.NewRegistry()
	mh := platform.NewMemoryHandler()
	recorder := &outboundRecorder{}
	closed := false

	ctx := channel.AppContext{AppName: "Near Share", DeviceName: "Pixel 7", Platform: mh}
	ch, err := reg.Open(AppID, ctx, factory, recorder.sendFunc(cv), func() { closed = true })
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	return ch, recorder, mh, &closed
}

func withCV(cv []byte, vs *valueset.ValueSet) []byte {
	payload, _ := valueset.EncodeBytes(vs)
	full := make([]byte, 0, len(cv)+len(payload))
	full = append(full, cv...)
	full = append(full, payload...)
	return full
}

func TestUriStartRequestNotifiesAndTearsDown(t *testing.T) {
	cv := bytes.Repeat([]byte{0x07}, correlationVectorSize)
	ch, recorder, mh, closed := openTestChannel(t, cv)

	vs := valueset.New()
	vs.SetUint32(KeyControlMessage, MsgStartRequest)
	vs.SetUint32(KeyDataKind, DataKindUri)
	vs.SetString(KeyUri, "https://example.com")

	if err := ch.Dispatch(&wire.CommonHeader{RequestID: 5}, withCV(cv, vs)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(mh.ReceivedURIs) != 1 || mh.ReceivedURIs[0].Uri != "https://example.com" || mh.ReceivedURIs[0].DeviceName != "Pixel 7" {
		t.Fatalf("unexpected ReceivedURIs: %+v", mh.ReceivedURIs)
	}
	msgs := recorder.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one reply, got %d", len(msgs))
	}
	kind, _ := msgs[0].vs.GetUint32(KeyControlMessage)
	if kind != MsgStartResponse {
		t.Fatalf("expected StartResponse, got kind %d", kind)
	}
	if !*closed {
		t.Fatal("expected session closed after URI transfer")
	}
}

func TestFileTransferFetchesInPartitions(t *testing.T) {
	cv := bytes.Repeat([]byte{0x09}, correlationVectorSize)
	ch, recorder, mh, closed := openTestChannel(t, cv)

	sink := &memorySink{}
	mh.AutoAccept = func(token *platform.FileTransferToken) (func() (platform.WriterAtCloser, error), bool) {
		return func() (platform.WriterAtCloser, error) { return sinkCloser{sink}, nil }, true
	}

	start := valueset.New()
	start.SetUint32(KeyControlMessage, MsgStartRequest)
	start.SetUint32(KeyDataKind, DataKindFile)
	start.SetStringList(KeyFileNames, []string{"a.bin"})
	start.SetUint64(KeyBytesToSend, 250000)

	if err := ch.Dispatch(&wire.CommonHeader{RequestID: 1}, withCV(cv, start)); err != nil {
		t.Fatalf("start dispatch: %v", err)
	}

	msgs := recorder.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one FetchDataRequest after accept, got %d", len(msgs))
	}
	assertFetchRequest(t, msgs[0].vs, 0, PartitionSize)

	blob1 := bytes.Repeat([]byte{0xAA}, PartitionSize)
	resp1 := valueset.New()
	resp1.SetUint32(KeyControlMessage, MsgFetchDataResponse)
	resp1.SetUint64(KeyBlobPosition, 0)
	resp1.SetBytes(KeyDataBlob, blob1)
	if err := ch.Dispatch(&wire.CommonHeader{}, withCV(cv, resp1)); err != nil {
		t.Fatalf("fetch response 1: %v", err)
	}
	msgs = recorder.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected second FetchDataRequest, got %d messages", len(msgs))
	}
	assertFetchRequest(t, msgs[1].vs, 102400, PartitionSize)

	blob2 := bytes.Repeat([]byte{0xBB}, PartitionSize)
	resp2 := valueset.New()
	resp2.SetUint32(KeyControlMessage, MsgFetchDataResponse)
	resp2.SetUint64(KeyBlobPosition, 102400)
	resp2.SetBytes(KeyDataBlob, blob2)
	if err := ch.Dispatch(&wire.CommonHeader{}, withCV(cv, resp2)); err != nil {
		t.Fatalf("fetch response 2: %v", err)
	}
	msgs = recorder.messages()
	if len(msgs) != 3 {
		t.Fatalf("expected third FetchDataRequest, got %d messages", len(msgs))
	}
	assertFetchRequest(t, msgs[2].vs, 204800, PartitionSize)

	// Peer truncates its final reply to the 45200 bytes actually remaining,
	// even though we requested a full partition.
	blob3 := bytes.Repeat([]byte{0xCC}, 250000-2*PartitionSize)
	resp3 := valueset.New()
	resp3.SetUint32(KeyControlMessage, MsgFetchDataResponse)
	resp3.SetUint64(KeyBlobPosition, 204800)
	resp3.SetBytes(KeyDataBlob, blob3)
	if err := ch.Dispatch(&wire.CommonHeader{}, withCV(cv, resp3)); err != nil {
		t.Fatalf("fetch response 3: %v", err)
	}

	msgs = recorder.messages()
	if len(msgs) != 4 {
		t.Fatalf("expected final StartResponse, got %d messages", len(msgs))
	}
	kind, _ := msgs[3].vs.GetUint32(KeyControlMessage)
	if kind != MsgStartResponse {
		t.Fatalf("expected final StartResponse, got kind %d", kind)
	}
	if !*closed {
		t.Fatal("expected session closed after file transfer completes")
	}

	got := sink.bytes()
	if len(got) != 250000 {
		t.Fatalf("sink has %d bytes, want 250000", len(got))
	}
	want := append(append(append([]byte{}, blob1...), blob2...), blob3...)
	if !bytes.Equal(got, want) {
		t.Fatal("sink contents do not match concatenated blobs")
	}
}

func TestFileTransferCancellationDisposesWithoutFetching(t *testing.T) {
	cv := bytes.Repeat([]byte{0x0A}, correlationVectorSize)
	ch, recorder, mh, _ := openTestChannel(t, cv)

	mh.AutoAccept = func(token *platform.FileTransferToken) (func() (platform.WriterAtCloser, error), bool) {
		return nil, false
	}

	start := valueset.New()
	start.SetUint32(KeyControlMessage, MsgStartRequest)
	start.SetUint32(KeyDataKind, DataKindFile)
	start.SetStringList(KeyFileNames, []string{"a.bin"})
	start.SetUint64(KeyBytesToSend, 1000)

	err := ch.Dispatch(&wire.CommonHeader{}, withCV(cv, start))
	if err == nil {
		t.Fatal("expected cancellation to surface as an error")
	}
	if len(recorder.messages()) != 0 {
		t.Fatal("expected no FetchDataRequest emitted after cancellation")
	}
}

func assertFetchRequest(t *testing.T, vs *valueset.ValueSet, wantPos uint64, wantSize uint32) {
	t.Helper()
	kind, _ := vs.GetUint32(KeyControlMessage)
	if kind != MsgFetchDataRequest {
		t.Fatalf("expected FetchDataRequest, got kind %d", kind)
	}
	pos, _ := vs.GetUint64(KeyBlobPosition)
	size, _ := vs.GetUint32(KeyBlobSize)
	if pos != wantPos || size != wantSize {
		t.Fatalf("got position=%d size=%d, want position=%d size=%d", pos, size, wantPos, wantSize)
	}
}

// sinkCloser adapts memorySink (no Close method) to platform.WriterAtCloser.
type sinkCloser struct {
	*memorySink
}

func (sinkCloser) Close() error { return nil }
