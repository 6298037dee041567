// Package discovery proposes short topic labels for review text that the
// keyword and semantic passes could not explain.
//
// Discovery is strictly additive. Callers treat every error as "no
// proposals" and carry on.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxLabels caps proposals per review.
const DefaultMaxLabels = 3

// maxLabelRunes drops rambling answers that are not labels.
const maxLabelRunes = 60

// Discoverer proposes topic labels for a piece of text.
type Discoverer interface {
	Discover(ctx context.Context, text string) ([]string, error)
	Name() string
}

// Nop never proposes anything.
type Nop struct{}

func (Nop) Discover(context.Context, string) ([]string, error) { return nil, nil }
func (Nop) Name() string                                       { return "none" }

// Bounded limits every call of a discoverer to Timeout.
type Bounded struct {
	Discoverer Discoverer
	Timeout    time.Duration
}

// WithTimeout bounds d. A non-positive timeout returns d unchanged.
func WithTimeout(d Discoverer, timeout time.Duration) Discoverer {
	if timeout <= 0 {
		return d
	}
	return &Bounded{Discoverer: d, Timeout: timeout}
}

func (b *Bounded) Name() string { return b.Discoverer.Name() }

func (b *Bounded) Discover(ctx context.Context, text string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	type result struct {
		labels []string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		labels, err := b.Discoverer.Discover(ctx, text)
		done <- result{labels, err}
	}()

	select {
	case r := <-done:
		return r.labels, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("discovery %s timed out after %s", b.Discoverer.Name(), b.Timeout)
	}
}

// SplitList parses a comma-separated model answer into labels.
func SplitList(answer string, max int) []string {
	return cleanLabels(strings.Split(answer, ","), max)
}

// cleanLabels trims, de-duplicates (case-insensitively) and caps labels.
func cleanLabels(raw []string, max int) []string {
	if max <= 0 {
		max = DefaultMaxLabels
	}
	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, label := range raw {
		label = strings.TrimSpace(label)
		label = strings.Trim(label, `"'.-*• `)
		label = strings.Join(strings.Fields(label), " ")
		if label == "" || utf8.RuneCountInString(label) > maxLabelRunes {
			continue
		}
		key := strings.ToLower(label)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, label)
		if len(out) == max {
			break
		}
	}
	return out
}
