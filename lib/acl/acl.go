// Package acl tests concrete pub/sub topics against wildcard grant patterns.
//
// Patterns use broker-style wildcards: "+" matches exactly one level, "#"
// matches any remainder (including none) and is only meaningful as the final
// token. Matching is deterministic and side-effect free. The same matcher
// gates both the event-stream authorization path and the HTTP gateway, so
// the two paths cannot drift apart in their security semantics.
package acl

import "strings"

// Match reports whether topic matches a single wildcard pattern.
func Match(pattern, topic string) bool {
	if pattern == "" {
		return false
	}
	patTokens := strings.Split(pattern, "/")
	topTokens := strings.Split(topic, "/")

	for i, tok := range patTokens {
		if tok == "#" {
			// Multi-level wildcard swallows the remainder, even an empty one.
			return true
		}
		if i >= len(topTokens) {
			return false
		}
		if tok == "+" {
			continue
		}
		if tok != topTokens[i] {
			return false
		}
	}
	return len(patTokens) == len(topTokens)
}

// MatchAny reports whether any of the grant patterns matches topic. The scan
// stops at the first match; order does not affect the result since matching
// is a disjunction.
func MatchAny(topic string, patterns []string) bool {
	for _, p := range patterns {
		if Match(p, topic) {
			return true
		}
	}
	return false
}
