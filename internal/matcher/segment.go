// Package matcher implements the two independent pattern indexes used by
// the broker: a dot-separated broadcast-name matcher and a slash-separated
// MQTT-style topic subscription matcher. They are two distinct data
// structures rather than one generalized trie, since their wildcard
// semantics differ (broadcast queries carry the wildcard; subscriptions
// store it).
package matcher

import "strings"

// matchSegments walks a pattern against a literal, segment by segment.
// wildcardOne matches exactly one literal segment; wildcardRest, if it is
// the pattern's final segment, matches every remaining literal segment
// (zero or more). Both matchers in this package only ever place their
// "rest" wildcard at the end of a pattern, so no backtracking is needed.
func matchSegments(patSegs, litSegs []string, wildcardOne, wildcardRest string) bool {
	pi, li := 0, 0
	for pi < len(patSegs) {
		seg := patSegs[pi]
		if seg == wildcardRest && pi == len(patSegs)-1 {
			return true
		}
		if li >= len(litSegs) {
			return false
		}
		if seg == wildcardOne || seg == litSegs[li] {
			pi++
			li++
			continue
		}
		return false
	}
	return li == len(litSegs)
}

func splitDot(s string) []string {
	return strings.Split(s, ".")
}

func splitSlash(s string) []string {
	return strings.Split(s, "/")
}
