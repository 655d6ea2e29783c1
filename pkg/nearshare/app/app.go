// Package app implements the Near Share file/URI receiver: a channel-level
// state machine driven by ValueSet property-bag messages, layered on
// pkg/nearshare/channel.
package app

import (
	"fmt"
	"io"
	"sync"

	"github.com/junbin-yang/nearshare-go/pkg/nearshare/channel"
	"github.com/junbin-yang/nearshare-go/pkg/nearshare/nserr"
	"github.com/junbin-yang/nearshare-go/pkg/platform"
	"github.com/junbin-yang/nearshare-go/pkg/valueset"
	"github.com/junbin-yang/nearshare-go/pkg/wire"
)

// AppID is the well-known application id a peer names in StartChannelRequest
// to open a Near Share transfer channel.
const AppID = "NearSharePlatform"

// PartitionSize is the chunk size of every FetchDataRequest.
const PartitionSize = 102400

// correlationVectorSize is the fixed opaque prefix every inbound payload
// carries and every outbound reply must echo back unchanged.
const correlationVectorSize = 12

// ValueSet keys recognized by this application.
const (
	KeyControlMessage = "ControlMessage"
	KeyDataKind       = "DataKind"
	KeyFileNames      = "FileNames"
	KeyBytesToSend    = "BytesToSend"
	KeyUri            = "Uri"
	KeyBlobPosition   = "BlobPosition"
	KeyBlobSize       = "BlobSize"
	KeyDataBlob       = "DataBlob"
	KeyContentId      = "ContentId"
)

// ControlMessage kinds, carried as the KeyControlMessage value. The wire
// values themselves are not specified by anything outside this core (the
// byte-for-bit interop requirement binds the frame/crypto/channel layers,
// not this internal tag), so these are assigned in StartRequest/
// StartResponse/FetchDataRequest/FetchDataResponse order.
const (
	MsgStartRequest uint32 = iota
	MsgStartResponse
	MsgFetchDataRequest
	MsgFetchDataResponse
)

// DataKind values, carried as the KeyDataKind value of a StartRequest.
const (
	DataKindFile uint32 = iota
	DataKindUri
)

// File-size display thresholds and the resulting formatter, used only for
// the log line emitted when a file transfer begins.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
)

// FormatSize renders n bytes using the KB/MB/GB thresholds, 2-decimal
// rounding.
func FormatSize(n uint64) string {
	switch {
	case n >= sizeGB:
		return fmt.Sprintf("%.2f GB", float64(n)/sizeGB)
	case n >= sizeMB:
		return fmt.Sprintf("%.2f MB", float64(n)/sizeMB)
	case n >= sizeKB:
		return fmt.Sprintf("%.2f KB", float64(n)/sizeKB)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// NearShareApp is one channel's file/URI receiver instance. A fresh
// instance is constructed per channel by Register's factory closure; it is
// single-shot, same as the protocol it implements: a transfer completes,
// cancels, or fails and the channel (and its session) are torn down.
type NearShareApp struct {
	ctx channel.AppContext

	mu                sync.Mutex
	correlationVector []byte
	token             *platform.FileTransferToken
	sink              io.WriterAt
	bytesToSend       uint64
	transferred       uint64
}

// New constructs a NearShareApp bound to ctx. Matches channel.Constructor.
func New(ctx channel.AppContext) channel.Application {
	return &NearShareApp{ctx: ctx}
}

// Register installs this application under its well-known id.
func Register(factory *channel.Factory) {
	factory.Register(AppID, New)
}

// HandleMessage decodes the fixed correlation-vector prefix and the
// trailing ValueSet, then dispatches on its ControlMessage kind.
func (a *NearShareApp) HandleMessage(ch *channel.Channel, header *wire.CommonHeader, body []byte) error {
	if len(body) < correlationVectorSize {
		return fmt.Errorf("%w: message shorter than correlation vector", nserr.ErrProtocolViolation)
	}

	a.mu.Lock()
	a.correlationVector = append([]byte(nil), body[:correlationVectorSize]...)
	a.mu.Unlock()

	vs, err := valueset.DecodeBytes(body[correlationVectorSize:])
	if err != nil {
		return err
	}

	kind, err := vs.GetUint32(KeyControlMessage)
	if err != nil {
		return fmt.Errorf("%w: %v", nserr.ErrProtocolViolation, err)
	}

	switch kind {
	case MsgStartRequest:
		return a.handleStartRequest(ch, header.RequestID, vs)
	case MsgFetchDataResponse:
		return a.handleFetchDataResponse(ch, header.RequestID, vs)
	default:
		return fmt.Errorf("%w: unexpected ControlMessage kind %d", nserr.ErrProtocolViolation, kind)
	}
}

func (a *NearShareApp) handleStartRequest(ch *channel.Channel, requestID uint32, vs *valueset.ValueSet) error {
	dataKind, err := vs.GetUint32(KeyDataKind)
	if err != nil {
		return fmt.Errorf("%w: %v", nserr.ErrProtocolViolation, err)
	}

	switch dataKind {
	case DataKindUri:
		return a.handleUriStart(ch, requestID, vs)
	case DataKindFile:
		return a.handleFileStart(ch, requestID, vs)
	default:
		return fmt.Errorf("%w: unrecognized DataKind %d", nserr.ErrNotImplemented, dataKind)
	}
}

func (a *NearShareApp) handleUriStart(ch *channel.Channel, requestID uint32, vs *valueset.ValueSet) error {
	uri, err := vs.GetString(KeyUri)
	if err != nil {
		return fmt.Errorf("%w: %v", nserr.ErrProtocolViolation, err)
	}

	a.ctx.Platform.OnReceivedUri(a.ctx.DeviceName, uri)

	reply := valueset.New()
	reply.SetUint32(KeyControlMessage, MsgStartResponse)
	if err := a.send(ch, requestID, reply); err != nil {
		return err
	}

	ch.CloseSession()
	return nil
}

func (a *NearShareApp) handleFileStart(ch *channel.Channel, requestID uint32, vs *valueset.ValueSet) error {
	fileNames, err := vs.GetStringList(KeyFileNames)
	if err != nil {
		return fmt.Errorf("%w: %v", nserr.ErrProtocolViolation, err)
	}
	if len(fileNames) != 1 {
		return fmt.Errorf("%w: multi-file transfer (%d names)", nserr.ErrNotImplemented, len(fileNames))
	}

	bytesToSend, err := vs.GetUint64(KeyBytesToSend)
	if err != nil {
		return fmt.Errorf("%w: %v", nserr.ErrProtocolViolation, err)
	}

	a.ctx.Platform.Log(platform.LogInfo, fmt.Sprintf("receiving %q (%s) from %s", fileNames[0], FormatSize(bytesToSend), a.ctx.DeviceName))

	token := platform.NewFileTransferToken(fileNames[0], bytesToSend, 0)
	a.mu.Lock()
	a.token = token
	a.bytesToSend = bytesToSend
	a.mu.Unlock()

	a.ctx.Platform.OnFileTransfer(token)

	// This is the acceptance-promise suspension point: it runs on the
	// background task the session reader handed this message off to, so
	// blocking here does not stall the reader.
	decision := <-token.Decision()
	if decision.Cancelled {
		return fmt.Errorf("%w: file transfer cancelled", nserr.ErrDisposed)
	}

	a.mu.Lock()
	a.sink = decision.Sink
	a.mu.Unlock()

	return a.sendFetchDataRequest(ch, 0)
}

func (a *NearShareApp) handleFetchDataResponse(ch *channel.Channel, requestID uint32, vs *valueset.ValueSet) error {
	position, err := vs.GetUint64(KeyBlobPosition)
	if err != nil {
		return fmt.Errorf("%w: %v", nserr.ErrProtocolViolation, err)
	}
	blob, err := vs.GetBytes(KeyDataBlob)
	if err != nil {
		return fmt.Errorf("%w: %v", nserr.ErrProtocolViolation, err)
	}

	a.mu.Lock()
	bytesToSend := a.bytesToSend
	sink := a.sink
	a.mu.Unlock()

	if position > bytesToSend || uint64(len(blob)) > PartitionSize {
		return fmt.Errorf("%w: FetchDataResponse position=%d len=%d bytesToSend=%d", nserr.ErrProtocolViolation, position, len(blob), bytesToSend)
	}

	writeLen := uint64(len(blob))
	if position+writeLen > bytesToSend {
		writeLen = bytesToSend - position
	}
	if writeLen > 0 {
		if _, err := sink.WriteAt(blob[:writeLen], int64(position)); err != nil {
			return fmt.Errorf("writing received blob: %w", err)
		}
	}

	transferred := position + writeLen
	a.mu.Lock()
	a.transferred = transferred
	a.mu.Unlock()
	a.token.SetReceivedBytes(transferred)

	if transferred >= bytesToSend {
		reply := valueset.New()
		reply.SetUint32(KeyControlMessage, MsgStartResponse)
		if err := a.send(ch, requestID, reply); err != nil {
			return err
		}
		ch.CloseSession()
		return nil
	}

	return a.sendFetchDataRequest(ch, transferred)
}

func (a *NearShareApp) sendFetchDataRequest(ch *channel.Channel, position uint64) error {
	vs := valueset.New()
	vs.SetUint32(KeyControlMessage, MsgFetchDataRequest)
	vs.SetUint64(KeyBlobPosition, position)
	vs.SetUint32(KeyBlobSize, PartitionSize)
	vs.SetUint32(KeyContentId, 0)
	return a.send(ch, 0, vs)
}

// send writes vs after the preserved correlation-vector prefix. Additional
// headers are never carried forward: the only inbound one this layer sees
// (the correlation vector) is stripped per message, and nothing else needs
// to be echoed at the header level.
func (a *NearShareApp) send(ch *channel.Channel, requestID uint32, vs *valueset.ValueSet) error {
	payload, err := valueset.EncodeBytes(vs)
	if err != nil {
		return err
	}

	a.mu.Lock()
	cv := a.correlationVector
	a.mu.Unlock()

	full := make([]byte, 0, len(cv)+len(payload))
	full = append(full, cv...)
	full = append(full, payload...)
	return ch.Send(requestID, nil, full)
}
