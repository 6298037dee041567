package ingest

import (
	"strings"
	"unicode"
)

// DefaultStopwords is used when no stopword list is configured.
var DefaultStopwords = []string{
	"a", "an", "the", "is", "was", "were", "are", "be", "been", "am",
	"i", "me", "my", "we", "our", "you", "your", "it", "its", "this", "that",
	"to", "of", "in", "on", "at", "for", "with", "from", "by", "as",
	"and", "or", "but", "so", "very", "too", "just", "really", "also",
	"has", "have", "had", "do", "does", "did", "will", "would", "should", "could",
	"can", "get", "got", "there", "they", "them", "he", "she", "his", "her",
	"when", "what", "which", "who", "then", "than", "again", "even", "every",
	"time", "times", "today", "please", "app",
}

// Tokenizer handles text tokenization and normalization
type Tokenizer struct {
	stopwords map[string]struct{}
}

// NewTokenizer creates a new tokenizer with the given stopword list
func NewTokenizer(stopwords []string) *Tokenizer {
	stops := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stops[strings.ToLower(w)] = struct{}{}
	}
	return &Tokenizer{stopwords: stops}
}

// Words splits normalized text into word tokens without any filtering.
// Letters, digits, inner hyphens and inner apostrophes are kept.
func (t *Tokenizer) Words(text string) []string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		word := strings.Trim(current.String(), "-'")
		if word != "" {
			words = append(words, word)
		}
		current.Reset()
	}

	for _, r := range Normalize(text) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '-' || r == '\'' || r == '’' {
			if r == '’' {
				r = '\''
			}
			current.WriteRune(r)
			continue
		}
		flush()
	}
	flush()

	return words
}

// Tokenize returns content tokens: words minus stopwords, single
// characters and pure numbers.
func (t *Tokenizer) Tokenize(text string) []string {
	return t.Content(t.Words(text))
}

// Content filters an already split word list down to content tokens.
func (t *Tokenizer) Content(words []string) []string {
	var tokens []string
	for _, w := range words {
		if len([]rune(w)) <= 1 || isNumericOnly(w) || t.IsStopword(w) {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// isNumericOnly returns true if the token contains only digits and hyphens.
func isNumericOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '-' {
			return false
		}
	}
	return true
}

// IsStopword reports whether word is filtered from content tokens.
func (t *Tokenizer) IsStopword(word string) bool {
	_, ok := t.stopwords[word]
	return ok
}

// AddStopword adds a word to the stopword list
func (t *Tokenizer) AddStopword(word string) {
	t.stopwords[strings.ToLower(word)] = struct{}{}
}

// RemoveStopword removes a word from the stopword list
func (t *Tokenizer) RemoveStopword(word string) {
	delete(t.stopwords, strings.ToLower(word))
}
