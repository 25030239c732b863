package registry

import (
	"sync"

	"odin-busd/internal/wire"
)

// Handle is the identity and delivery endpoint for one registered
// client. Two handles are equal iff their Name is equal; the
// registry and both matchers key by Name for that reason. A Handle is
// effectively immutable after construction — the only runtime mutation
// path is sending on Outbound, or closing done once via Close.
type Handle struct {
	Name      string
	Transport wire.TransportKind
	Source    string // peer address for TCP; empty for Unix/internal
	Port      string // bind path/address the client connected to

	// Outbound is the bounded MPSC queue of frames awaiting delivery to
	// this client. The write loop (or, for InProcessClient, the embedding
	// caller) is the sole reader.
	Outbound chan *wire.Frame

	closeOnce sync.Once
	done      chan struct{}
}

// NewHandle constructs a handle with a queue of the given capacity. The
// handle is not visible to any index until Registry.Register succeeds.
func NewHandle(name string, transport wire.TransportKind, source, port string, queueSize int) *Handle {
	return &Handle{
		Name:      name,
		Transport: transport,
		Source:    source,
		Port:      port,
		Outbound:  make(chan *wire.Frame, queueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel closed once this handle is torn down. Dispatch
// primitives select on it alongside Outbound so a send to a disconnected
// recipient returns promptly instead of blocking forever.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close marks the handle torn down. Safe to call more than once or
// concurrently; only the first call has effect.
func (h *Handle) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Enqueue attempts to place f on h's outbound queue, suspending the
// caller until space is available or h is torn down; senders back off
// on a full queue, frames are never silently dropped. It reports
// whether the frame was actually enqueued.
func (h *Handle) Enqueue(f *wire.Frame) bool {
	select {
	case h.Outbound <- f:
		return true
	case <-h.done:
		return false
	}
}
