// Package strings holds text helpers for user-facing messages.
package strings

import (
	"strings"
)

// DefaultSummaryLen bounds server response text quoted in error messages.
const DefaultSummaryLen = 200

// minSummaryLen leaves room for one character plus "...".
const minSummaryLen = 4

// Summarize collapses s onto one line and cuts it to maxLen runes, ending in
// "..." when cut. Multi-line server replies such as HTML error pages stay
// readable in a terminal this way.
func Summarize(s string, maxLen int) string {
	if maxLen < minSummaryLen {
		maxLen = minSummaryLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
