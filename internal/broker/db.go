// Package broker ties the registry and the two pattern matchers together
// into the single DB the rest of the system dispatches against, and
// implements the three routing primitives (send, broadcast, publish)
// plus the in-process client shortcut.
package broker

import (
	"go.uber.org/zap"

	"odin-busd/internal/matcher"
	"odin-busd/internal/registry"
	"odin-busd/internal/wire"
)

// DB is the broker's in-memory state: the client registry and the
// broadcast and subscription matchers, registered/unregistered together
// so a client is always simultaneously present in all three or absent
// from all three.
type DB struct {
	Registry     *registry.Registry
	Broadcast    *matcher.BroadcastMatcher
	Subscription *matcher.SubscriptionMatcher

	queueSize int
	log       *zap.Logger
	hooks     Hooks
}

// Hooks lets callers (mainly internal/metrics) observe dispatch events
// without DB importing the metrics package.
type Hooks struct {
	OnRegister   func(handle *registry.Handle)
	OnUnregister func(handle *registry.Handle)
	OnRouted     func(kind wire.FrameKind)
	OnDropped    func()
}

// New constructs an empty DB. queueSize is recorded and reported by
// QueueSize; each handle's outbound capacity is the one it was built with
// in registry.NewHandle.
func New(queueSize int, log *zap.Logger, hooks Hooks) *DB {
	return &DB{
		Registry:     registry.New(),
		Broadcast:    matcher.NewBroadcastMatcher(),
		Subscription: matcher.NewSubscriptionMatcher(),
		queueSize:    queueSize,
		log:          log,
		hooks:        hooks,
	}
}

// QueueSize returns the queue size the DB was constructed with.
func (db *DB) QueueSize() int {
	return db.queueSize
}

// Register installs handle in all three indexes atomically with respect
// to later lookups, and auto-subscribes it to the well-known warn topic.
// Clients are never auto-subscribed to .broker/info.
func (db *DB) Register(handle *registry.Handle) error {
	if err := db.Registry.Register(handle); err != nil {
		return err
	}
	db.Broadcast.RegisterClient(handle.Name)
	db.Subscription.RegisterClient(handle.Name)
	db.Subscription.Subscribe(handle.Name, wire.BrokerWarnTopic)

	if db.hooks.OnRegister != nil {
		db.hooks.OnRegister(handle)
	}
	return nil
}

// Unregister removes handle from all three indexes and tears down its
// outbound channel's done signal. Idempotent; safe after a failed
// registration.
func (db *DB) Unregister(handle *registry.Handle) {
	db.Subscription.UnregisterClient(handle.Name)
	db.Broadcast.UnregisterClient(handle.Name)
	db.Registry.Unregister(handle.Name)
	handle.Close()

	if db.hooks.OnUnregister != nil {
		db.hooks.OnUnregister(handle)
	}
}

// Lookup returns the handle registered under name, if any.
func (db *DB) Lookup(name string) (*registry.Handle, bool) {
	return db.Registry.Lookup(name)
}

// Enumerate returns a name-sorted snapshot, for the administration
// surface.
func (db *DB) Enumerate() []*registry.Handle {
	return db.Registry.Enumerate()
}
