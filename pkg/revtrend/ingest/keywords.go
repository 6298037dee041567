package ingest

import "strings"

// SeedTopic is a preconfigured topic label with the phrases that bind to it.
type SeedTopic struct {
	Label    string
	Keywords []string
}

// KeywordMatch is one phrase hit inside a word sequence.
type KeywordMatch struct {
	Label  string
	Phrase string
	Start  int
	End    int // exclusive
}

type keywordEntry struct {
	phrase string
	words  []string
	labels []string
}

// KeywordMatcher recognizes seed phrases with greedy longest-match over
// word tokens. A label is always a phrase for itself.
type KeywordMatcher struct {
	tokenizer *Tokenizer
	byLen     map[int][]*keywordEntry
	labels    []string
	maxLen    int
}

// NewKeywordMatcher builds a matcher from seed topics.
func NewKeywordMatcher(tokenizer *Tokenizer, seeds []SeedTopic) *KeywordMatcher {
	m := &KeywordMatcher{
		tokenizer: tokenizer,
		byLen:     make(map[int][]*keywordEntry),
		maxLen:    1,
	}
	index := make(map[string]*keywordEntry)

	for _, seed := range seeds {
		label := strings.TrimSpace(seed.Label)
		if label == "" {
			continue
		}
		m.labels = append(m.labels, label)

		phrases := append([]string{label}, seed.Keywords...)
		for _, p := range phrases {
			words := tokenizer.Words(p)
			if len(words) == 0 {
				continue
			}
			key := strings.Join(words, " ")
			entry, ok := index[key]
			if !ok {
				entry = &keywordEntry{phrase: key, words: words}
				index[key] = entry
				m.byLen[len(words)] = append(m.byLen[len(words)], entry)
				if len(words) > m.maxLen {
					m.maxLen = len(words)
				}
			}
			if !containsString(entry.labels, label) {
				entry.labels = append(entry.labels, label)
			}
		}
	}
	return m
}

// Labels returns the seed labels in configuration order.
func (m *KeywordMatcher) Labels() []string {
	out := make([]string, len(m.labels))
	copy(out, m.labels)
	return out
}

// MatchText tokenizes text and matches it.
func (m *KeywordMatcher) MatchText(text string) []KeywordMatch {
	return m.Match(m.tokenizer.Words(text))
}

// Match applies greedy longest-match to recognize seed phrases. At each
// position the longest matching phrase wins; every label bound to a phrase
// of that length is reported.
func (m *KeywordMatcher) Match(words []string) []KeywordMatch {
	var matches []KeywordMatch
	i := 0

	for i < len(words) {
		maxPhrase := m.maxLen
		if remaining := len(words) - i; maxPhrase > remaining {
			maxPhrase = remaining
		}

		matchLen := 0
		for n := maxPhrase; n >= 1 && matchLen == 0; n-- {
			for _, entry := range m.byLen[n] {
				if !wordsMatch(entry.words, words[i:i+n]) {
					continue
				}
				matchLen = n
				for _, label := range entry.labels {
					matches = append(matches, KeywordMatch{
						Label:  label,
						Phrase: entry.phrase,
						Start:  i,
						End:    i + n,
					})
				}
			}
		}

		if matchLen > 0 {
			i += matchLen
		} else {
			i++
		}
	}

	return matches
}

func wordsMatch(phrase, words []string) bool {
	for i := range phrase {
		if !inflects(phrase[i], words[i]) {
			return false
		}
	}
	return true
}

var inflectionSuffixes = []string{"s", "es", "d", "ed", "ing", "y", "ly", "er", "ers", "led", "ling"}

// inflects reports whether word is kw or a simple inflection of it
// ("crash" → "crashing", "deliver" → "delivery", "freeze" → "freezing").
func inflects(kw, word string) bool {
	if kw == word {
		return true
	}
	if len(kw) < 3 {
		return false
	}
	stems := []string{kw}
	if strings.HasSuffix(kw, "e") {
		stems = append(stems, strings.TrimSuffix(kw, "e"))
	}
	for _, stem := range stems {
		if !strings.HasPrefix(word, stem) {
			continue
		}
		rest := word[len(stem):]
		for _, suf := range inflectionSuffixes {
			if rest == suf {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
