// Package transport drives the byte-stream side of a CDP connection: it
// reads length-prefixed frames off an io.ReadWriteCloser, resolves each one
// to a session through a session.Registry, and hands the frame to that
// session. Everything past frame parsing (handshake, crypto, channel
// dispatch) belongs to pkg/nearshare/session; this package only owns the
// read loop and the outbound Conn adapter.
package transport

import (
	"errors"
	"io"
	"sync"

	log "github.com/junbin-yang/nearshare-go/pkg/utils/logger"
	"github.com/junbin-yang/nearshare-go/pkg/nearshare/session"
	"github.com/junbin-yang/nearshare-go/pkg/wire"
)

// Conn adapts a raw stream into session.Conn. Frame writes are serialized:
// net.Conn.Write is safe for concurrent use by the net package's own docs,
// but sessions already serialize outbound frames through their own write
// mutex, so this lock only guards against a caller bypassing that (direct
// use of Conn from more than one session, which should not happen but would
// otherwise interleave partial frames).
type Conn struct {
	mu     sync.Mutex
	stream io.ReadWriteCloser
}

// NewConn wraps stream as a session.Conn.
func NewConn(stream io.ReadWriteCloser) *Conn {
	return &Conn{stream: stream}
}

// WriteFrame writes header and body as one length-prefixed frame.
func (c *Conn) WriteFrame(header *wire.CommonHeader, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.WriteFrame(c.stream, header, body)
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.stream.Close()
}

// ServeConn reads frames from stream until it errs or returns io.EOF,
// resolving each to a session via host.Registry and dispatching it with
// session.Receive. device identifies the remote peer for the registry's
// WrongDevice check; callers typically pass the remote socket address.
// ServeConn blocks until the stream closes or a non-recoverable frame error
// occurs; run it in its own goroutine per connection.
func ServeConn(stream io.ReadWriteCloser, device string, host *session.Host) error {
	conn := NewConn(stream)
	defer conn.Close()

	for {
		frame, err := wire.ReadFrame(stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		s, err := host.Registry.GetOrCreate(device, frame.Header, host, conn)
		if err != nil {
			log.Warnf("transport: rejecting frame from %s: %v", device, err)
			return err
		}

		if err := s.Receive(frame.Header, frame.Body); err != nil {
			log.Warnf("transport: session %d: %v", s.LocalID, err)
			if s.IsDisposed() {
				return nil
			}
		}
	}
}
