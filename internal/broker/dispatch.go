package broker

import "odin-busd/internal/wire"

// Send resolves target in the registry and enqueues a Message frame
// carrying payload. It reports whether target was found; callers decide
// what that means for acknowledgement.
func (db *DB) Send(sender, target string, payload []byte) bool {
	handle, ok := db.Lookup(target)
	if !ok {
		return false
	}
	f := &wire.Frame{Kind: wire.KindMessage, Sender: sender, Buf: payload}
	if !handle.Enqueue(f) && db.hooks.OnDropped != nil {
		db.hooks.OnDropped()
	}
	if db.hooks.OnRouted != nil {
		db.hooks.OnRouted(wire.KindMessage)
	}
	return true
}

// SendBroadcast resolves pattern against the BroadcastMatcher and
// enqueues one shared Frame reference to every matched recipient. An
// empty match is a no-op, never an error.
func (db *DB) SendBroadcast(sender, pattern string, payload []byte) {
	names := db.Broadcast.GetClientsByMask(pattern)
	if len(names) == 0 {
		return
	}
	f := &wire.Frame{Kind: wire.KindBroadcast, Sender: sender, Buf: payload}
	for _, name := range names {
		if handle, ok := db.Lookup(name); ok {
			if !handle.Enqueue(f) && db.hooks.OnDropped != nil {
				db.hooks.OnDropped()
			}
		}
	}
	if db.hooks.OnRouted != nil {
		db.hooks.OnRouted(wire.KindBroadcast)
	}
}

// Publish resolves topic against the SubscriptionMatcher and enqueues
// one shared Frame reference to every subscriber. An empty match is a
// no-op, never an error.
func (db *DB) Publish(sender, topic string, payload []byte) {
	names := db.Subscription.GetSubscribers(topic)
	if len(names) == 0 {
		return
	}
	f := &wire.Frame{Kind: wire.KindPublish, Sender: sender, HasTopic: true, Topic: topic, Buf: payload}
	for _, name := range names {
		if handle, ok := db.Lookup(name); ok {
			if !handle.Enqueue(f) && db.hooks.OnDropped != nil {
				db.hooks.OnDropped()
			}
		}
	}
	if db.hooks.OnRouted != nil {
		db.hooks.OnRouted(wire.KindPublish)
	}
}

// Subscribe applies pattern for client. Idempotent.
func (db *DB) Subscribe(client, pattern string) {
	db.Subscription.Subscribe(client, pattern)
}

// Unsubscribe removes pattern for client, if present.
func (db *DB) Unsubscribe(client, pattern string) {
	db.Subscription.Unsubscribe(client, pattern)
}
