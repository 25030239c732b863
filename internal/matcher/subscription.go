package matcher

import "sync"

// subNode is one level of the `/`-segmented subscription trie. `+`
// (single-segment) and `#` (trailing multi-segment) wildcards get their
// own dedicated child pointers so a lookup never has to guess which
// branch a literal topic segment should fall into.
type subNode struct {
	children map[string]*subNode
	plus     *subNode
	hash     map[string]bool // clients subscribed via a `#` rooted here
	clients  map[string]bool // clients whose pattern terminates exactly here
}

func newSubNode() *subNode {
	return &subNode{children: make(map[string]*subNode)}
}

// SubscriptionMatcher indexes (client, topic-pattern) subscriptions so
// that a concrete topic can be resolved to its subscriber set.
// Patterns are separated by `/`; `+` matches exactly one segment and a
// trailing `#` matches zero or more remaining segments.
type SubscriptionMatcher struct {
	mu   sync.RWMutex
	root *subNode
	// clientPatterns supports UnregisterClient without walking the whole
	// trie: it records, per client, every pattern it has subscribed to.
	clientPatterns map[string]map[string]bool
}

// NewSubscriptionMatcher returns an empty matcher.
func NewSubscriptionMatcher() *SubscriptionMatcher {
	return &SubscriptionMatcher{
		root:           newSubNode(),
		clientPatterns: make(map[string]map[string]bool),
	}
}

// RegisterClient establishes client as a known subscriber root with no
// subscriptions yet, so UnregisterClient is always safe to call even if
// the client never subscribed to anything.
func (m *SubscriptionMatcher) RegisterClient(client string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clientPatterns[client]; !ok {
		m.clientPatterns[client] = make(map[string]bool)
	}
}

// Subscribe adds (client, pattern). Idempotent: subscribing to the same
// pattern more than once has the same effect as subscribing once.
func (m *SubscriptionMatcher) Subscribe(client, pattern string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.root
	segs := splitSlash(pattern)
	for i, seg := range segs {
		last := i == len(segs)-1
		switch {
		case seg == "#" && last:
			if node.hash == nil {
				node.hash = make(map[string]bool)
			}
			node.hash[client] = true
			m.recordPattern(client, pattern)
			return
		case seg == "+":
			if node.plus == nil {
				node.plus = newSubNode()
			}
			node = node.plus
		default:
			child, ok := node.children[seg]
			if !ok {
				child = newSubNode()
				node.children[seg] = child
			}
			node = child
		}
	}
	if node.clients == nil {
		node.clients = make(map[string]bool)
	}
	node.clients[client] = true
	m.recordPattern(client, pattern)
}

func (m *SubscriptionMatcher) recordPattern(client, pattern string) {
	patterns, ok := m.clientPatterns[client]
	if !ok {
		patterns = make(map[string]bool)
		m.clientPatterns[client] = patterns
	}
	patterns[pattern] = true
}

// Unsubscribe removes (client, pattern), if present.
func (m *SubscriptionMatcher) Unsubscribe(client, pattern string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribeLocked(client, pattern)
}

func (m *SubscriptionMatcher) unsubscribeLocked(client, pattern string) {
	node := m.root
	segs := splitSlash(pattern)
	for i, seg := range segs {
		last := i == len(segs)-1
		switch {
		case seg == "#" && last:
			if node.hash != nil {
				delete(node.hash, client)
			}
			if patterns := m.clientPatterns[client]; patterns != nil {
				delete(patterns, pattern)
			}
			return
		case seg == "+":
			if node.plus == nil {
				return
			}
			node = node.plus
		default:
			child, ok := node.children[seg]
			if !ok {
				return
			}
			node = child
		}
	}
	if node.clients != nil {
		delete(node.clients, client)
	}
	if patterns := m.clientPatterns[client]; patterns != nil {
		delete(patterns, pattern)
	}
}

// UnregisterClient removes every subscription belonging to client.
// Idempotent; safe to call on a client that was never registered.
func (m *SubscriptionMatcher) UnregisterClient(client string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pattern := range m.clientPatterns[client] {
		m.unsubscribeLocked(client, pattern)
	}
	delete(m.clientPatterns, client)
}

// GetSubscribers returns every client whose subscription set contains a
// pattern matching topic, each appearing at most once.
func (m *SubscriptionMatcher) GetSubscribers(topic string) []string {
	segs := splitSlash(topic)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool)
	collectSubscribers(m.root, segs, out)

	names := make([]string, 0, len(out))
	for name := range out {
		names = append(names, name)
	}
	return names
}

func collectSubscribers(node *subNode, segs []string, out map[string]bool) {
	if node == nil {
		return
	}
	for c := range node.hash {
		out[c] = true
	}
	if len(segs) == 0 {
		for c := range node.clients {
			out[c] = true
		}
		return
	}
	seg, rest := segs[0], segs[1:]
	collectSubscribers(node.children[seg], rest, out)
	collectSubscribers(node.plus, rest, out)
}
