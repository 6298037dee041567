package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
)

// Store is the main interface for persisting topic registries and per-day
// topic counts.
type Store interface {
	Close() error

	// Registry
	LoadTopics(ctx context.Context, appID string) ([]Topic, error)

	// CommitDay atomically replaces every count for (AppID, Day), records
	// the day as processed, and upserts the given topics and aliases.
	CommitDay(ctx context.Context, c DayCommit) error

	// Counts & days
	GetDailyCounts(ctx context.Context, appID string, from, to time.Time) ([]DailyCount, error)
	GetDays(ctx context.Context, appID string, from, to time.Time) ([]DayRecord, error)

	// Apps lists every app with persisted state, sorted.
	Apps(ctx context.Context) ([]string, error)
}

// Topic creators
const (
	CreatedBySeed       = "seed"
	CreatedByDiscovered = "discovered"
	CreatedBySink       = "sink"
)

// Topic is the persisted form of a canonical topic.
type Topic struct {
	ID        int64
	Label     string
	Embedding []float32 // nil for the sink topic
	Aliases   []string
	CreatedBy string
	FirstSeen time.Time
}

// DailyCount is the number of reviews on Day that mention TopicID.
type DailyCount struct {
	AppID   string
	Day     time.Time
	TopicID int64
	Count   int
}

// DayRecord marks (AppID, Day) as processed.
type DayRecord struct {
	AppID       string
	Day         time.Time
	Reviews     int
	Topicless   int
	RunID       string
	ProcessedAt time.Time
}

// DayCommit is everything one processed day writes.
type DayCommit struct {
	Day    DayRecord
	Counts []DailyCount
	Topics []Topic
}

// ValidateTopics checks a loaded registry for structural damage: duplicate
// or non-positive ids, empty labels, unknown creators, or representative
// vectors of inconsistent length.
func ValidateTopics(topics []Topic) error {
	seen := make(map[int64]struct{}, len(topics))
	dims := -1
	for _, t := range topics {
		if t.ID <= 0 {
			return fmt.Errorf("%w: topic id %d", internalerr.ErrCorruptState, t.ID)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: duplicate topic id %d", internalerr.ErrCorruptState, t.ID)
		}
		seen[t.ID] = struct{}{}
		if t.Label == "" {
			return fmt.Errorf("%w: topic %d has empty label", internalerr.ErrCorruptState, t.ID)
		}
		switch t.CreatedBy {
		case CreatedBySeed, CreatedByDiscovered:
			if len(t.Embedding) == 0 {
				return fmt.Errorf("%w: topic %d has no embedding", internalerr.ErrCorruptState, t.ID)
			}
			if dims == -1 {
				dims = len(t.Embedding)
			} else if len(t.Embedding) != dims {
				return fmt.Errorf("%w: topic %d embedding has %d dims, want %d", internalerr.ErrCorruptState, t.ID, len(t.Embedding), dims)
			}
		case CreatedBySink:
		default:
			return fmt.Errorf("%w: topic %d has unknown creator %q", internalerr.ErrCorruptState, t.ID, t.CreatedBy)
		}
	}
	return nil
}

// ValidateCounts rejects negative counts.
func ValidateCounts(counts []DailyCount) error {
	for _, c := range counts {
		if c.Count < 0 {
			return fmt.Errorf("%w: negative count %d for topic %d", internalerr.ErrCorruptState, c.Count, c.TopicID)
		}
	}
	return nil
}
