// Package bridge implements the page-facing TonConnect connector object:
// connection establishment, reconnection, generic wallet method invocation
// and event subscription over an opaque transport to the privileged wallet
// context.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tonbridge/tonbridge/core/logx"
	"github.com/tonbridge/tonbridge/tonconnect/proto"
)

// Connector is the opaque transport to the privileged wallet context. Call
// issues a named request with positional arguments and blocks until a reply
// arrives or ctx ends. A nil payload with a nil error means the transport
// produced no response.
type Connector interface {
	Call(ctx context.Context, name string, args ...any) (json.RawMessage, error)
}

// TeardownFunc subscribes a hook to host teardown (the page-unload analog)
// and returns a cancel function removing it.
type TeardownFunc func(hook func()) (cancel func())

// Config assembles a Bridge. Connector is required; the rest have working
// defaults.
type Config struct {
	Connector Connector
	// Device recomputes the device descriptor. Called on every connect and
	// reconnect; results are never cached by the bridge.
	Device func() proto.DeviceInfo
	// Teardown registers the best-effort deactivate hook after a successful
	// connect. Optional.
	Teardown TeardownFunc
	// IsWalletBrowser reports whether the host runs inside the wallet's own
	// embedded browser. Reserved; always false today.
	IsWalletBrowser bool
	Logger          *zerolog.Logger
}

type listenerEntry struct {
	id int64
	cb func(proto.Event)
}

// Bridge is the wallet-side connector object handed to the hosting dapp
// context. Construct with New; the zero value is not usable.
type Bridge struct {
	connector       Connector
	device          func() proto.DeviceInfo
	teardown        TeardownFunc
	isWalletBrowser bool
	log             zerolog.Logger

	// Single id space shared by connect, reconnect and disconnect events.
	// Strictly increasing, never reused within the bridge's lifetime.
	nextID atomic.Int64

	mu             sync.Mutex
	listeners      []listenerEntry
	listenerSeq    int64
	cancelTeardown func()
}

// New constructs a Bridge from cfg.
func New(cfg Config) *Bridge {
	b := &Bridge{
		connector:       cfg.Connector,
		device:          cfg.Device,
		teardown:        cfg.Teardown,
		isWalletBrowser: cfg.IsWalletBrowser,
		log:             logx.Log,
	}
	if cfg.Logger != nil {
		b.log = *cfg.Logger
	}
	if b.device == nil {
		b.device = func() proto.DeviceInfo { return proto.DeviceInfo{Platform: proto.PlatformUndetermined, MaxProtocolVersion: proto.Version} }
	}
	return b
}

// ProtocolVersion returns the highest protocol version the bridge supports.
func (b *Bridge) ProtocolVersion() int { return proto.Version }

// IsWalletBrowser reports whether the host is the wallet's embedded browser.
func (b *Bridge) IsWalletBrowser() bool { return b.isWalletBrowser }

// DeviceInfo returns a freshly computed device descriptor.
func (b *Bridge) DeviceInfo() proto.DeviceInfo { return b.device() }

// Connect establishes a new connection. Protocol violations and transport
// failures surface as connect_error events, never as Go errors: the
// returned event is always the same one delivered to listeners.
func (b *Bridge) Connect(ctx context.Context, version int, req proto.ConnectRequest) proto.Event {
	id := b.nextID.Add(1)
	if version > proto.Version {
		return b.emit(proto.NewConnectError(id, proto.CodeBadRequest, "Unsupported protocol version"))
	}
	raw, err := b.connector.Call(ctx, proto.MethodConnect, req, id)
	return b.completeConnect(id, raw, err)
}

// RestoreConnection silently resumes a previously established session.
// Same contract as Connect minus the version check.
func (b *Bridge) RestoreConnection(ctx context.Context) proto.Event {
	id := b.nextID.Add(1)
	raw, err := b.connector.Call(ctx, proto.MethodReconnect, id)
	return b.completeConnect(id, raw, err)
}

func (b *Bridge) completeConnect(id int64, raw json.RawMessage, err error) proto.Event {
	if err != nil {
		b.log.Debug().Err(err).Msg("connect transport failure")
	}
	if err != nil || len(raw) == 0 {
		return b.emit(proto.NewConnectError(id, proto.CodeUnknown, "Unknown error"))
	}
	var ev proto.Event
	if uerr := json.Unmarshal(raw, &ev); uerr != nil {
		b.log.Debug().Err(uerr).Msg("malformed connect response")
		return b.emit(proto.NewConnectError(id, proto.CodeUnknown, "Unknown error"))
	}
	if ev.Event == proto.EventConnect {
		// The wallet side may have filled device already; the bridge's own
		// descriptor always wins.
		ev.Payload = withDevice(ev.Payload, b.device())
		b.armTeardown()
	}
	return b.emit(ev)
}

// withDevice overwrites the "device" field of a connect payload.
func withDevice(payload json.RawMessage, dev proto.DeviceInfo) json.RawMessage {
	fields := map[string]json.RawMessage{}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &fields)
	}
	db, err := json.Marshal(dev)
	if err != nil {
		return payload
	}
	fields["device"] = db
	out, err := json.Marshal(fields)
	if err != nil {
		return payload
	}
	return out
}

// Send forwards an arbitrary wallet method invocation. The reply always
// carries the request's own id; when the transport yields nothing the
// bridge synthesizes an unknown-error response instead of failing.
func (b *Bridge) Send(ctx context.Context, msg proto.AppRequest) proto.WalletResponse {
	raw, err := b.connector.Call(ctx, msg.Method, msg)
	if msg.Method == proto.MethodDisconnect {
		// Once the dapp explicitly disconnected there is nothing left to
		// deactivate at teardown, whatever the wallet answered.
		b.disarmTeardown()
	}
	if err != nil {
		b.log.Debug().Err(err).Str("method", msg.Method).Msg("send transport failure")
	}
	if err != nil || len(raw) == 0 {
		return proto.NewUnknownResponse(msg.ID)
	}
	var resp proto.WalletResponse
	if uerr := json.Unmarshal(raw, &resp); uerr != nil {
		b.log.Debug().Err(uerr).Str("method", msg.Method).Msg("malformed wallet response")
		return proto.NewUnknownResponse(msg.ID)
	}
	return resp
}

// Listen subscribes cb to all future connect/disconnect events. The
// returned function unsubscribes exactly this registration and is
// idempotent.
func (b *Bridge) Listen(cb func(proto.Event)) func() {
	b.mu.Lock()
	b.listenerSeq++
	id := b.listenerSeq
	b.listeners = append(b.listeners, listenerEntry{id: id, cb: cb})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// OnDisconnect is invoked by the privileged context when the wallet severs
// the connection. It emits a disconnect event locally; the transport is not
// involved.
func (b *Bridge) OnDisconnect() {
	id := b.nextID.Add(1)
	b.emit(proto.NewDisconnect(id))
	b.disarmTeardown()
}

// emit delivers ev to every registered listener in registration order and
// returns ev unchanged. The listener list is snapshotted first, so
// unsubscribing during dispatch affects future events only. A panicking
// listener does not interrupt delivery to the rest.
func (b *Bridge) emit(ev proto.Event) proto.Event {
	b.mu.Lock()
	snapshot := make([]listenerEntry, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()
	for _, l := range snapshot {
		b.dispatch(l, ev)
	}
	return ev
}

func (b *Bridge) dispatch(l listenerEntry, ev proto.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn().Interface("panic", r).Str("event", ev.Event).Int64("id", ev.ID).Msg("listener panicked")
		}
	}()
	l.cb(ev)
}

func (b *Bridge) armTeardown() {
	if b.teardown == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelTeardown != nil {
		return
	}
	b.cancelTeardown = b.teardown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		// Best effort; the host is going away.
		_, _ = b.connector.Call(ctx, proto.MethodDeactivate)
	})
}

func (b *Bridge) disarmTeardown() {
	b.mu.Lock()
	cancel := b.cancelTeardown
	b.cancelTeardown = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
