package matcher

import "sync"

// BroadcastMatcher indexes registered client names (the literal side) so
// that a query pattern using `.` as a separator, `?` for a single
// segment, and a trailing `*` for the remaining segments, can be resolved
// to the set of matching names. Registration is by literal name;
// wildcards only ever appear in a query.
type BroadcastMatcher struct {
	mu      sync.RWMutex
	clients map[string]bool
}

// NewBroadcastMatcher returns an empty matcher.
func NewBroadcastMatcher() *BroadcastMatcher {
	return &BroadcastMatcher{clients: make(map[string]bool)}
}

// RegisterClient installs name as a literal leaf.
func (m *BroadcastMatcher) RegisterClient(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[name] = true
}

// UnregisterClient removes name, if present. Idempotent.
func (m *BroadcastMatcher) UnregisterClient(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, name)
}

// GetClientsByMask returns every registered name whose literal matches
// pattern. An exact literal name (no wildcards) also resolves via this
// same path, since matchSegments degrades to an exact comparison.
func (m *BroadcastMatcher) GetClientsByMask(pattern string) []string {
	patSegs := splitDot(pattern)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for name := range m.clients {
		if matchSegments(patSegs, splitDot(name), "?", "*") {
			out = append(out, name)
		}
	}
	return out
}
