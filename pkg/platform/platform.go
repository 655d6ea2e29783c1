// Package platform defines the capability set a host process supplies so
// the core can surface log lines, received URIs, and inbound file transfers
// without depending on any particular UI shell, discovery mechanism, or
// certificate store.
package platform

import "io"

// LogLevel mirrors the platform handler's Log(level, message) capability.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

// Handler is the platform capability set the host process must implement.
type Handler interface {
	// Log relays a core log line to the host platform's own logging.
	Log(level LogLevel, message string)
	// OnReceivedUri is invoked once per received URI.
	OnReceivedUri(deviceName, uri string)
	// OnFileTransfer is invoked once per inbound file, handing the host a
	// token it must Accept or Cancel.
	OnFileTransfer(token *FileTransferToken)
}

// FileTransferToken is the external handle representing one inbound file.
// The platform handler calls Accept or Cancel exactly once; the application
// layer observes the result via the channel returned by Decision(), and
// publishes received-byte progress via SetReceivedBytes, observable through
// Progress.
type FileTransferToken struct {
	FileName     string
	DeclaredSize uint64

	decisionCh chan Decision
	progressCh chan uint64
	received   uint64
}

// Decision is the resolved outcome of a transfer token's acceptance promise:
// either a writable Sink (accepted) or Cancelled.
type Decision struct {
	Sink      io.WriterAt
	Cancelled bool
}

// NewFileTransferToken constructs a token for an inbound file of the given
// name and declared size. The Progress channel holds bufferedProgress+1
// values; SetReceivedBytes never blocks and drops a value when the channel
// is full, so a larger buffer means fewer dropped notifications for a slow
// consumer. 0 is fine for tests that drain Progress promptly.
func NewFileTransferToken(fileName string, declaredSize uint64, bufferedProgress int) *FileTransferToken {
	return &FileTransferToken{
		FileName:     fileName,
		DeclaredSize: declaredSize,
		decisionCh:   make(chan Decision, 1),
		progressCh:   make(chan uint64, bufferedProgress+1),
	}
}

// Accept resolves the token's acceptance promise with sink. Safe to call
// from any goroutine; only the first Accept or Cancel call takes effect.
func (t *FileTransferToken) Accept(sink io.WriterAt) error {
	select {
	case t.decisionCh <- Decision{Sink: sink}:
		return nil
	default:
		return errAlreadyDecided
	}
}

// Cancel resolves the token's acceptance promise with cancellation.
func (t *FileTransferToken) Cancel() {
	select {
	case t.decisionCh <- Decision{Cancelled: true}:
	default:
	}
}

// Decision blocks until Accept or Cancel is called.
func (t *FileTransferToken) Decision() <-chan Decision { return t.decisionCh }

// SetReceivedBytes publishes a new received-byte total, firing a progress
// notification. The application layer is expected to call this only from
// the single task owning the transfer, so no locking is done here.
func (t *FileTransferToken) SetReceivedBytes(n uint64) {
	t.received = n
	select {
	case t.progressCh <- n:
	default:
		// drop if nobody is listening; last value wins on next successful send
	}
}

// ReceivedBytes returns the most recently published received-byte total.
func (t *FileTransferToken) ReceivedBytes() uint64 { return t.received }

// Progress exposes received-byte notifications to the platform handler.
func (t *FileTransferToken) Progress() <-chan uint64 { return t.progressCh }

var errAlreadyDecided = &alreadyDecidedError{}

type alreadyDecidedError struct{}

func (*alreadyDecidedError) Error() string { return "platform: transfer token already decided" }
