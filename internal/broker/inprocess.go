package broker

import (
	"context"
	"fmt"

	"odin-busd/internal/registry"
	"odin-busd/internal/wire"
)

// InProcessClient implements the same five operations a wire peer has
// (subscribe, unsubscribe, send, send_broadcast, publish) directly
// against the DB, bypassing the wire protocol entirely. It backs
// the broker-internal `.broker` identity and is available to any code
// embedding the broker in the same process.
type InProcessClient struct {
	db     *DB
	Handle *registry.Handle
}

// NewInProcessClient registers name (transport_kind=internal) and
// returns a client bound to it. name may be the reserved `.broker`
// identity; that reservation is only enforced on the wire handshake
// (internal/peer), not here.
func NewInProcessClient(db *DB, name string, queueSize int) (*InProcessClient, error) {
	handle := registry.NewHandle(name, wire.TransportInternal, "", "", queueSize)
	if err := db.Register(handle); err != nil {
		return nil, fmt.Errorf("broker: register in-process client %q: %w", name, err)
	}
	return &InProcessClient{db: db, Handle: handle}, nil
}

// Close unregisters the client from all three indexes.
func (c *InProcessClient) Close() {
	c.db.Unregister(c.Handle)
}

// Send delivers payload to target directly. Reports whether target was
// registered.
func (c *InProcessClient) Send(target string, payload []byte) bool {
	return c.db.Send(c.Handle.Name, target, payload)
}

// SendBroadcast delivers payload to every client matching pattern.
func (c *InProcessClient) SendBroadcast(pattern string, payload []byte) {
	c.db.SendBroadcast(c.Handle.Name, pattern, payload)
}

// Publish delivers payload to every subscriber of topic.
func (c *InProcessClient) Publish(topic string, payload []byte) {
	c.db.Publish(c.Handle.Name, topic, payload)
}

// Subscribe applies pattern for this client.
func (c *InProcessClient) Subscribe(pattern string) {
	c.db.Subscribe(c.Handle.Name, pattern)
}

// Unsubscribe removes pattern for this client.
func (c *InProcessClient) Unsubscribe(pattern string) {
	c.db.Unsubscribe(c.Handle.Name, pattern)
}

// Recv blocks until a frame is enqueued for this client, ctx is
// cancelled, or the handle is torn down.
func (c *InProcessClient) Recv(ctx context.Context) (*wire.Frame, bool) {
	select {
	case f := <-c.Handle.Outbound:
		return f, true
	case <-ctx.Done():
		return nil, false
	case <-c.Handle.Done():
		return nil, false
	}
}
