// Package itemkey canonicalizes item display names into stable lookup keys.
//
// Upstream systems spell the same item inconsistently (extra spaces, mixed
// case), so every aggregation and matching key in the stock engine passes
// through Normalize. It is the single point of truth for name equality
// between transaction records, catalog items, and persisted stock entries.
package itemkey

import "strings"

// Normalize trims leading/trailing whitespace, collapses internal whitespace
// runs to a single space, and lowercases. An empty result means the item is
// unidentified and must be skipped, never aggregated.
func Normalize(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Join(fields, " "))
}
