// Package channel multiplexes application instances inside one session.
// It knows nothing about the Near Share payload format; it only routes
// bytes to whichever Application a StartChannelRequest instantiated and
// gives that application a way to write back.
package channel

import (
	"sync"

	"github.com/junbin-yang/nearshare-go/pkg/nearshare/nserr"
	"github.com/junbin-yang/nearshare-go/pkg/platform"
	"github.com/junbin-yang/nearshare-go/pkg/wire"
)

// Application is implemented by a channel-level protocol handler. The Near
// Share file/URI receiver is the only implementation registered by this
// core, but the factory indirection keeps channel dispatch generic.
type Application interface {
	HandleMessage(ch *Channel, header *wire.CommonHeader, body []byte) error
}

// AppContext is everything a channel-application constructor needs beyond
// the StartChannelRequest's own fields: which device this channel's session
// belongs to, and the platform capability set to call out through. Carried
// separately from Factory.Register so the factory itself stays a flat
// appID->constructor map, registered once per process, while every Open
// call supplies the session-specific pieces.
type AppContext struct {
	AppName    string
	DeviceName string
	Platform   platform.Handler
}

// Constructor builds an Application instance for one channel.
type Constructor func(ctx AppContext) Application

// SendFunc writes an encrypted Session-type message on behalf of a channel.
// Captured as a closure at channel construction time so Channel never holds
// a reference back to its owning session (breaking the session/channel/app
// ownership cycle).
type SendFunc func(channelID uint64, requestID uint32, additional []wire.AdditionalHeader, body []byte) error

// CloseSessionFunc tears down the entire owning session, used by
// applications that close themselves together with their session.
type CloseSessionFunc func()

// Channel is one multiplexed application instance inside a session.
type Channel struct {
	ID  uint64
	App Application

	send         SendFunc
	closeSession CloseSessionFunc
	registry     *Registry
}

// Send writes an encrypted Session-type reply on this channel.
func (ch *Channel) Send(requestID uint32, additional []wire.AdditionalHeader, body []byte) error {
	return ch.send(ch.ID, requestID, additional, body)
}

// Close removes this channel from its session's registry. It does not tear
// down the session itself; use CloseSession for that.
func (ch *Channel) Close() {
	ch.registry.remove(ch.ID)
}

// CloseSession tears down the owning session, which cascades back through
// the registry's CloseAll.
func (ch *Channel) CloseSession() {
	ch.closeSession()
}

// Dispatch hands an assembled Session-type message body to this channel's
// application.
func (ch *Channel) Dispatch(header *wire.CommonHeader, body []byte) error {
	return ch.App.HandleMessage(ch, header, body)
}

// Factory maps application ids to constructors. The Near Share application
// registers itself under its well-known id during process startup.
type Factory struct {
	mu    sync.Mutex
	ctors map[string]Constructor
}

// NewFactory returns an empty application-factory registry.
func NewFactory() *Factory {
	return &Factory{ctors: make(map[string]Constructor)}
}

// Register associates appID with a constructor.
func (f *Factory) Register(appID string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[appID] = ctor
}

// New instantiates the application registered under appID, failing
// ErrNotImplemented for unrecognized ids.
func (f *Factory) New(appID string, ctx AppContext) (Application, error) {
	f.mu.Lock()
	ctor, ok := f.ctors[appID]
	f.mu.Unlock()
	if !ok {
		return nil, nserr.ErrNotImplemented
	}
	return ctor(ctx), nil
}

// Registry is a session's channel table, with ids allocated monotonically
// from 1.
type Registry struct {
	mu       sync.Mutex
	nextID   uint64
	channels map[uint64]*Channel
}

// NewRegistry returns an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{nextID: 1, channels: make(map[uint64]*Channel)}
}

// Open allocates a channel id, constructs app via factory, and registers
// the resulting channel.
func (r *Registry) Open(appID string, ctx AppContext, factory *Factory, send SendFunc, closeSession CloseSessionFunc) (*Channel, error) {
	app, err := factory.New(appID, ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ch := &Channel{
		ID:           r.nextID,
		App:          app,
		send:         send,
		closeSession: closeSession,
		registry:     r,
	}
	r.channels[ch.ID] = ch
	r.nextID++
	return ch, nil
}

// Get looks up a channel by id.
func (r *Registry) Get(id uint64) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	return ch, ok
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, id)
}

// CloseAll removes every channel, used when the owning session is disposed.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = make(map[uint64]*Channel)
}

// Len reports the number of open channels. Exposed for tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
