// Package nserr collects the sentinel errors shared across the session,
// channel and application layers, grouped the way the wire and crypto
// layers group theirs.
package nserr

import "errors"

var (
	// ErrAuth is returned when a device authentication thumbprint does not verify.
	ErrAuth = errors.New("nearshare: authentication failed")

	// ErrUnknownSession is returned by the session registry when a non-zero
	// local session id has no matching registration.
	ErrUnknownSession = errors.New("nearshare: unknown session")

	// ErrWrongRemote is returned when a header's remote id does not match
	// the remote id recorded for its local session id.
	ErrWrongRemote = errors.New("nearshare: remote id mismatch")

	// ErrWrongDevice is returned when a header arrives over a different
	// device address than the session was created for.
	ErrWrongDevice = errors.New("nearshare: device address mismatch")

	// ErrDisposed is returned by any operation on a session or channel that
	// has already been torn down.
	ErrDisposed = errors.New("nearshare: session disposed")

	// ErrProtocolViolation marks a message that is well-formed but invalid
	// for the current state (unexpected type, out-of-range blob position).
	ErrProtocolViolation = errors.New("nearshare: protocol violation")

	// ErrNotImplemented marks a request this core deliberately never
	// satisfies: multi-file transfers, unrecognized DataKind values, and
	// unknown application ids. An UpgradeRequest is not reported through it;
	// it is answered with an UpgradeFailure reply.
	ErrNotImplemented = errors.New("nearshare: not implemented")
)
