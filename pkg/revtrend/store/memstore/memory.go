package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/store"
)

// Store is an in-memory implementation of store.Store for tests.
type Store struct {
	mu     sync.RWMutex
	topics map[string]map[int64]store.Topic
	counts map[dayKey]map[int64]int
	days   map[dayKey]store.DayRecord
}

type dayKey struct {
	app string
	day time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		topics: make(map[string]map[int64]store.Topic),
		counts: make(map[dayKey]map[int64]int),
		days:   make(map[dayKey]store.DayRecord),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// LoadTopics returns every topic of an app in id order.
func (s *Store) LoadTopics(ctx context.Context, appID string) ([]store.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.topics[appID]
	out := make([]store.Topic, 0, len(byID))
	for _, t := range byID {
		out = append(out, copyTopic(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CommitDay applies a processed day atomically.
func (s *Store) CommitDay(ctx context.Context, c store.DayCommit) error {
	if c.Day.AppID == "" {
		return fmt.Errorf("%w: commit without app id", internalerr.ErrInvalidInput)
	}
	if err := store.ValidateCounts(c.Counts); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	app := c.Day.AppID
	byID := s.topics[app]
	incoming := make(map[int64]struct{}, len(c.Topics))
	for _, t := range c.Topics {
		incoming[t.ID] = struct{}{}
	}
	for _, cnt := range c.Counts {
		_, known := byID[cnt.TopicID]
		_, added := incoming[cnt.TopicID]
		if !known && !added {
			return fmt.Errorf("%w: count for unknown topic %d", internalerr.ErrInvalidInput, cnt.TopicID)
		}
	}

	if byID == nil {
		byID = make(map[int64]store.Topic)
		s.topics[app] = byID
	}
	for _, t := range c.Topics {
		existing, ok := byID[t.ID]
		if !ok {
			byID[t.ID] = copyTopic(t)
			continue
		}
		existing.Label = t.Label
		existing.Aliases = mergeAliases(existing.Aliases, t.Aliases)
		byID[t.ID] = existing
	}

	key := dayKey{app: app, day: c.Day.Day.UTC()}
	counts := make(map[int64]int, len(c.Counts))
	for _, cnt := range c.Counts {
		if cnt.Count > 0 {
			counts[cnt.TopicID] = cnt.Count
		}
	}
	s.counts[key] = counts

	rec := c.Day
	rec.Day = key.day
	s.days[key] = rec
	return nil
}

// GetDailyCounts returns counts for days in [from, to], ordered by day then
// topic id.
func (s *Store) GetDailyCounts(ctx context.Context, appID string, from, to time.Time) ([]store.DailyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.DailyCount
	for key, counts := range s.counts {
		if key.app != appID || key.day.Before(from) || key.day.After(to) {
			continue
		}
		for id, n := range counts {
			out = append(out, store.DailyCount{AppID: appID, Day: key.day, TopicID: id, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].TopicID < out[j].TopicID
	})
	return out, nil
}

// GetDays returns processed-day records in [from, to], ordered by day.
func (s *Store) GetDays(ctx context.Context, appID string, from, to time.Time) ([]store.DayRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.DayRecord
	for key, rec := range s.days {
		if key.app != appID || key.day.Before(from) || key.day.After(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// Apps lists every app with persisted state.
func (s *Store) Apps(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for app := range s.topics {
		seen[app] = struct{}{}
	}
	for key := range s.days {
		seen[key.app] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for app := range seen {
		out = append(out, app)
	}
	sort.Strings(out)
	return out, nil
}

func copyTopic(t store.Topic) store.Topic {
	out := t
	if t.Embedding != nil {
		out.Embedding = append([]float32(nil), t.Embedding...)
	}
	out.Aliases = mergeAliases(nil, t.Aliases)
	return out
}

func mergeAliases(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, alias := range list {
			if alias == "" {
				continue
			}
			if _, ok := seen[alias]; ok {
				continue
			}
			seen[alias] = struct{}{}
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}
