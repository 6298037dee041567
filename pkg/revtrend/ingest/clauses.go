package ingest

import (
	"regexp"
	"strings"
)

var (
	lineBreak   = regexp.MustCompile(`[\r\n\x{2028}\x{2029}\x{0085}]+`)
	clauseBreak = regexp.MustCompile(`[.!?;,:()]+|\s+(?:and|but|however|although|though|also|plus)\s+`)
)

// SplitClauses breaks review text into normalized phrase-level clauses.
// Line breaks always end a clause; they are split before normalization
// folds them into spaces.
func SplitClauses(text string) []string {
	var clauses []string
	for _, line := range lineBreak.Split(text, -1) {
		for _, part := range clauseBreak.Split(Normalize(line), -1) {
			part = strings.TrimSpace(part)
			if part != "" {
				clauses = append(clauses, part)
			}
		}
	}
	return clauses
}
