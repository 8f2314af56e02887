// Package sanitize neutralizes user text before it is stored.
package sanitize

import (
	"strings"
	"unicode/utf8"
)

var replacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// Escape replaces & < > " ' and / with HTML entities. Every other character
// is kept as is. Escape is not idempotent: "&amp;" becomes "&amp;amp;".
func Escape(text string) string {
	return replacer.Replace(text)
}

// Length counts characters, not bytes, so "µmol/L" is six long.
func Length(text string) int {
	return utf8.RuneCountInString(text)
}

// Clean trims surrounding whitespace and escapes the rest.
func Clean(text string) string {
	return Escape(strings.TrimSpace(text))
}
