// Package batch turns one day of reviews into persisted topic counts and
// replays ranges of days in chronological order.
package batch

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/revtrend/pkg/revtrend/extract"
	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/registry"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
	"github.com/cognicore/revtrend/pkg/revtrend/store"
)

// Source supplies the reviews of one app for one day. A day with no
// reviews available returns an error wrapping internalerr.ErrNotFound.
type Source interface {
	Reviews(ctx context.Context, appID string, day time.Time) ([]review.Review, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, appID string, day time.Time) ([]review.Review, error)

func (f SourceFunc) Reviews(ctx context.Context, appID string, day time.Time) ([]review.Review, error) {
	return f(ctx, appID, day)
}

// Options wires a Processor.
type Options struct {
	Store     store.Store
	Extractor *extract.Extractor
	Logger    *slog.Logger
	Now       func() time.Time
}

// Processor commits processed days.
type Processor struct {
	store     store.Store
	extractor *extract.Extractor
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates a Processor.
func New(opts Options) (*Processor, error) {
	if opts.Store == nil || opts.Extractor == nil {
		return nil, fmt.Errorf("%w: batch processor needs a store and an extractor", internalerr.ErrInvalidConfig)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{
		store:     opts.Store,
		extractor: opts.Extractor,
		log:       log,
		now:       now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// DayResult summarizes one committed day.
type DayResult struct {
	AppID     string
	Day       time.Time
	RunID     string
	Reviews   int
	Topicless int
	Counts    map[int64]int
	NewTopics int
}

// ProcessDay extracts topics from the day's reviews and commits counts,
// the day record and registry changes in one transaction, replacing any
// earlier run of the same day. reg is never modified: on success the
// updated registry is returned, on failure reg itself is returned and
// nothing has been written.
func (p *Processor) ProcessDay(ctx context.Context, reg *registry.Registry, day time.Time, reviews []review.Review) (*registry.Registry, DayResult, error) {
	appID := reg.AppID()
	day = review.Day(day)
	res := DayResult{AppID: appID, Day: day, Reviews: len(reviews), Counts: make(map[int64]int)}

	batch := make([]review.Review, len(reviews))
	for i, r := range reviews {
		if r.AppID != "" && r.AppID != appID {
			return reg, res, fmt.Errorf("%w: review %s belongs to %s, not %s", internalerr.ErrInvalidInput, r.ID, r.AppID, appID)
		}
		r.AppID = appID
		r.Day = day
		batch[i] = r
	}

	work := reg.Clone()
	before := work.Len()

	prepared, err := p.extractor.Prepare(ctx, batch)
	if err != nil {
		return reg, res, fmt.Errorf("prepare %s %s: %w", appID, review.FormatDay(day), err)
	}
	for _, pr := range prepared {
		hits := p.extractor.Assign(work, pr)
		if len(hits) == 0 {
			res.Topicless++
			continue
		}
		for _, h := range hits {
			res.Counts[h.TopicID]++
		}
	}
	res.NewTopics = work.Len() - before

	if err := ctx.Err(); err != nil {
		return reg, res, err
	}

	res.RunID = p.newRunID()
	commit := store.DayCommit{
		Day: store.DayRecord{
			AppID:       appID,
			Day:         day,
			Reviews:     res.Reviews,
			Topicless:   res.Topicless,
			RunID:       res.RunID,
			ProcessedAt: p.now().UTC(),
		},
		Counts: sortedCounts(appID, day, res.Counts),
		Topics: work.Changed(),
	}
	if err := p.store.CommitDay(ctx, commit); err != nil {
		return reg, res, fmt.Errorf("commit %s %s: %w", appID, review.FormatDay(day), err)
	}
	work.MarkClean()

	p.log.Info("day committed",
		"app", appID,
		"day", review.FormatDay(day),
		"reviews", res.Reviews,
		"topicless", res.Topicless,
		"topics", len(res.Counts),
		"new_topics", res.NewTopics,
		"run", res.RunID)
	return work, res, nil
}

func (p *Processor) newRunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ulid.MustNew(ulid.Now(), p.entropy).String()
}

func sortedCounts(appID string, day time.Time, counts map[int64]int) []store.DailyCount {
	out := make([]store.DailyCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, store.DailyCount{AppID: appID, Day: day, TopicID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out
}

// DayStatus is the outcome of one day in a replay.
type DayStatus string

const (
	DayProcessed DayStatus = "processed"
	DaySkipped   DayStatus = "skipped"
	DayFailed    DayStatus = "failed"
)

// DayOutcome records what happened to one day.
type DayOutcome struct {
	Day    time.Time
	Status DayStatus
	Result DayResult
	Err    error
}

// ReplayResult summarizes a replay.
type ReplayResult struct {
	AppID     string
	Days      []DayOutcome
	Processed int
	Skipped   int
	Failed    int
}

// Failures returns the failed days.
func (r ReplayResult) Failures() []DayOutcome {
	var out []DayOutcome
	for _, d := range r.Days {
		if d.Status == DayFailed {
			out = append(out, d)
		}
	}
	return out
}

// Replay processes every day in [from, to] in order. The registry used for
// a day is the one produced by the last successful day before it. Days the
// source has no reviews for are skipped; days that fail are recorded and
// the replay moves on. Only cancellation stops a replay early; the
// registry of the last committed day is returned with it.
func (p *Processor) Replay(ctx context.Context, reg *registry.Registry, from, to time.Time, src Source) (*registry.Registry, ReplayResult, error) {
	res := ReplayResult{AppID: reg.AppID()}
	days := review.Range(from, to)
	if days == nil {
		return reg, res, fmt.Errorf("%w: replay range %s..%s", internalerr.ErrInvalidInput, review.FormatDay(from), review.FormatDay(to))
	}

	current := reg
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return current, res, err
		}

		outcome := DayOutcome{Day: day}
		reviews, err := src.Reviews(ctx, res.AppID, day)
		switch {
		case err == nil:
		case errors.Is(err, internalerr.ErrNotFound):
			outcome.Status = DaySkipped
			outcome.Err = err
			res.Skipped++
			res.Days = append(res.Days, outcome)
			p.log.Info("no reviews; day skipped", "app", res.AppID, "day", review.FormatDay(day))
			continue
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return current, res, ctxErr
			}
			outcome.Status = DayFailed
			outcome.Err = err
			res.Failed++
			res.Days = append(res.Days, outcome)
			p.log.Error("day failed", "app", res.AppID, "day", review.FormatDay(day), "err", err)
			continue
		}

		next, dayRes, err := p.ProcessDay(ctx, current, day, reviews)
		outcome.Result = dayRes
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return current, res, ctxErr
			}
			outcome.Status = DayFailed
			outcome.Err = err
			res.Failed++
			res.Days = append(res.Days, outcome)
			p.log.Error("day failed", "app", res.AppID, "day", review.FormatDay(day), "err", err)
			continue
		}
		current = next
		outcome.Status = DayProcessed
		res.Processed++
		res.Days = append(res.Days, outcome)
	}
	return current, res, nil
}
