// Package sanitize converts feed HTML into plain text for notifications and chat.
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// Plain strips all markup from s, collapses whitespace and truncates the
// result to max runes, appending "..." when cut. A max of zero disables
// truncation.
func Plain(s string, max int) string {
	if s == "" {
		return ""
	}
	text := html.UnescapeString(strict.Sanitize(s))
	text = strings.Join(strings.Fields(text), " ")
	return Truncate(text, max)
}

// Truncate cuts s to max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
