package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKC, lowercases, drops control characters and
// collapses runs of whitespace into single spaces.
func Normalize(text string) string {
	normed := norm.NFKC.String(text)
	normed = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, normed)
	return strings.Join(strings.Fields(normed), " ")
}
