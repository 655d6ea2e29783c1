package session

import (
	"sync"

	"github.com/junbin-yang/nearshare-go/pkg/nearshare/channel"
	"github.com/junbin-yang/nearshare-go/pkg/nearshare/nserr"
	"github.com/junbin-yang/nearshare-go/pkg/platform"
	"github.com/junbin-yang/nearshare-go/pkg/wire"
)

// Host bundles everything a transport acceptor needs to terminate CDP
// connections: the session registry, the application-factory registry, the
// platform handler, and the local device certificate presented during
// authentication. It is constructed explicitly by the caller (typically
// once per process) rather than reached through a package-level singleton,
// so tests can run two independent receivers side by side.
type Host struct {
	Registry         *Registry
	Factory          *channel.Factory
	Platform         platform.Handler
	LocalCertificate []byte
}

// NewHost constructs a Host with an empty session registry.
func NewHost(platformHandler platform.Handler, localCertificate []byte) *Host {
	return &Host{
		Registry:         NewRegistry(),
		Factory:          channel.NewFactory(),
		Platform:         platformHandler,
		LocalCertificate: localCertificate,
	}
}

// Conn is the subset of a transport connection a session needs in order to
// write outbound frames and tear itself down.
type Conn interface {
	WriteFrame(header *wire.CommonHeader, body []byte) error
	Close() error
}

// Registry is the process-wide mapping from local session id to Session,
// with collision-free id allocation starting at the protocol's mandated
// initial value.
type Registry struct {
	mu       sync.Mutex
	nextID   uint32
	sessions map[uint32]*Session
}

// sessionIDStart is the mandated initial value of the session-id counter.
const sessionIDStart = 0x0e

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{nextID: sessionIDStart, sessions: make(map[uint32]*Session)}
}

// GetOrCreate implements the registry rules: a zero local id in header
// allocates and registers a fresh session; a non-zero id must resolve to an
// existing, matching, live registration.
func (r *Registry) GetOrCreate(device string, header *wire.CommonHeader, host *Host, conn Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if header.SessionIdLocal == 0 {
		id := r.nextID
		r.nextID++
		s := newSession(id, header.RemoteID(), device, host, conn, r)
		r.sessions[id] = s
		return s, nil
	}

	s, ok := r.sessions[header.SessionIdLocal]
	if !ok {
		return nil, nserr.ErrUnknownSession
	}
	if s.RemoteID != header.RemoteID() {
		return nil, nserr.ErrWrongRemote
	}
	if s.Device != device {
		return nil, nserr.ErrWrongDevice
	}
	if s.IsDisposed() {
		return nil, nserr.ErrDisposed
	}
	return s, nil
}

func (r *Registry) remove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len reports the number of live sessions. Exposed for tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
