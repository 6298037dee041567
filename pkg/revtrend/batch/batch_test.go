package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/cognicore/revtrend/pkg/revtrend/extract"
	"github.com/cognicore/revtrend/pkg/revtrend/ingest"
	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/registry"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
	"github.com/cognicore/revtrend/pkg/revtrend/store"
	"github.com/cognicore/revtrend/pkg/revtrend/store/memstore"
)

var (
	june1 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	june2 = time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	june3 = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
)

type mapEncoder map[string][]float32

func (m mapEncoder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := m[text]
		if !ok {
			v = []float32{-1, 0}
		}
		out[i] = v
	}
	return out, nil
}

func (m mapEncoder) Dims() int    { return 2 }
func (m mapEncoder) Name() string { return "map" }

var vectors = mapEncoder{
	"food arrived cold":     {0.81, 0.5864}, // ~0.81 vs Food stale
	"search filters broken": {0.6, -0.8},    // 0.6 vs Food stale
}

// failingStore rejects every commit.
type failingStore struct {
	store.Store
}

func (failingStore) CommitDay(context.Context, store.DayCommit) error {
	return errors.New("disk full")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newProcessor(t *testing.T, st store.Store) *Processor {
	t.Helper()
	tok := ingest.NewTokenizer(ingest.DefaultStopwords)
	ex, err := extract.New(extract.Options{
		Config:    extract.DefaultConfig(),
		Tokenizer: tok,
		Keywords: ingest.NewKeywordMatcher(tok, []ingest.SeedTopic{
			{Label: "Delivery issue", Keywords: []string{"delivery"}},
			{Label: "Food stale", Keywords: []string{"stale"}},
		}),
		Encoder: vectors,
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("extract.New: %v", err)
	}
	p, err := New(Options{Store: st, Extractor: ex, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func seededRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New("swiggy", registry.DefaultConfig())
	reg.Seed("Delivery issue", []float32{0, 1}, june1)
	reg.Seed("Food stale", []float32{1, 0}, june1)
	return reg
}

func reviews(texts ...string) []review.Review {
	out := make([]review.Review, len(texts))
	for i, text := range texts {
		out[i] = review.Review{ID: fmt.Sprintf("r%d", i+1), Text: text}
	}
	return out
}

func countsOf(t *testing.T, st store.Store, day time.Time) map[int64]int {
	t.Helper()
	rows, err := st.GetDailyCounts(context.Background(), "swiggy", day, day)
	if err != nil {
		t.Fatalf("GetDailyCounts: %v", err)
	}
	out := make(map[int64]int)
	for _, r := range rows {
		out[r.TopicID] = r.Count
	}
	return out
}

func TestProcessDayCountsKeywordTopic(t *testing.T) {
	st := memstore.New()
	p := newProcessor(t, st)

	reg, res, err := p.ProcessDay(context.Background(), seededRegistry(t), june1, reviews(
		"Delivery guy was late",
		"no delivery after an hour",
		"worst delivery ever seen",
	))
	if err != nil {
		t.Fatalf("ProcessDay: %v", err)
	}
	if want := map[int64]int{1: 3}; !reflect.DeepEqual(countsOf(t, st, june1), want) {
		t.Errorf("counts = %v, want %v", countsOf(t, st, june1), want)
	}
	if res.Reviews != 3 || res.Topicless != 0 || res.RunID == "" {
		t.Errorf("result = %+v", res)
	}
	if len(reg.Changed()) != 0 {
		t.Errorf("returned registry has unpersisted changes")
	}

	topics, _ := st.LoadTopics(context.Background(), "swiggy")
	if len(topics) != 2 {
		t.Errorf("seed topics not persisted: %d", len(topics))
	}
}

func TestProcessDayMergesParaphrase(t *testing.T) {
	st := memstore.New()
	p := newProcessor(t, st)

	_, res, err := p.ProcessDay(context.Background(), seededRegistry(t), june1, reviews(
		"the food was stale",
		"food arrived cold",
	))
	if err != nil {
		t.Fatalf("ProcessDay: %v", err)
	}
	if want := map[int64]int{2: 2}; !reflect.DeepEqual(res.Counts, want) {
		t.Errorf("counts = %v, want %v", res.Counts, want)
	}
}

func TestProcessDayCreatesTopic(t *testing.T) {
	st := memstore.New()
	p := newProcessor(t, st)

	reg, res, err := p.ProcessDay(context.Background(), seededRegistry(t), june1, reviews(
		"search filters broken",
		"ok",
	))
	if err != nil {
		t.Fatalf("ProcessDay: %v", err)
	}
	if res.NewTopics != 1 || res.Topicless != 1 {
		t.Errorf("result = %+v", res)
	}
	if reg.Label(3) != "Search filters broken" {
		t.Errorf("label = %q", reg.Label(3))
	}
	topics, _ := st.LoadTopics(context.Background(), "swiggy")
	if len(topics) != 3 {
		t.Errorf("new topic not persisted")
	}
}

func TestProcessDayIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	p := newProcessor(t, st)
	batch := reviews("search filters broken", "delivery late", "food arrived cold")

	reg, _, err := p.ProcessDay(ctx, seededRegistry(t), june1, batch)
	if err != nil {
		t.Fatalf("ProcessDay: %v", err)
	}
	first := countsOf(t, st, june1)

	reg2, _, err := p.ProcessDay(ctx, reg, june1, batch)
	if err != nil {
		t.Fatalf("ProcessDay rerun: %v", err)
	}
	if again := countsOf(t, st, june1); !reflect.DeepEqual(first, again) {
		t.Errorf("rerun changed counts: %v -> %v", first, again)
	}
	if reg2.Len() != reg.Len() {
		t.Errorf("rerun grew registry %d -> %d", reg.Len(), reg2.Len())
	}
	days, _ := st.GetDays(ctx, "swiggy", june1, june1)
	if len(days) != 1 {
		t.Errorf("expected one day record, got %d", len(days))
	}
}

func TestProcessDayFailureWritesNothing(t *testing.T) {
	mem := memstore.New()
	p := newProcessor(t, failingStore{Store: mem})
	reg := seededRegistry(t)

	got, _, err := p.ProcessDay(context.Background(), reg, june1, reviews("search filters broken"))
	if err == nil {
		t.Fatal("expected commit error")
	}
	if got != reg {
		t.Error("failed day must return the original registry")
	}
	if reg.Len() != 2 {
		t.Errorf("original registry mutated: %d topics", reg.Len())
	}
	if topics, _ := mem.LoadTopics(context.Background(), "swiggy"); len(topics) != 0 {
		t.Errorf("topics written: %d", len(topics))
	}
}

func TestProcessDayCancelled(t *testing.T) {
	st := memstore.New()
	p := newProcessor(t, st)
	reg := seededRegistry(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, _, err := p.ProcessDay(ctx, reg, june1, reviews("search filters broken"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got != reg {
		t.Error("cancelled day must return the original registry")
	}
	if days, _ := st.GetDays(context.Background(), "swiggy", june1, june1); len(days) != 0 {
		t.Errorf("day recorded despite cancellation")
	}
}

func TestProcessDayRejectsForeignReviews(t *testing.T) {
	p := newProcessor(t, memstore.New())
	batch := []review.Review{{ID: "x", AppID: "zomato", Text: "delivery was late"}}
	if _, _, err := p.ProcessDay(context.Background(), seededRegistry(t), june1, batch); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestReplayContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	p := newProcessor(t, st)

	var order []string
	src := SourceFunc(func(_ context.Context, app string, day time.Time) ([]review.Review, error) {
		order = append(order, review.FormatDay(day))
		switch {
		case day.Equal(june1):
			return reviews("search filters broken"), nil
		case day.Equal(june2):
			return nil, fmt.Errorf("%w: 503", internalerr.ErrSourceUnavailable)
		default:
			return reviews("search filters broken", "delivery late"), nil
		}
	})

	reg, res, err := p.Replay(ctx, seededRegistry(t), june1, june3, src)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"2024-06-01", "2024-06-02", "2024-06-03"}) {
		t.Errorf("days out of order: %v", order)
	}
	if res.Processed != 2 || res.Failed != 1 || res.Skipped != 0 {
		t.Errorf("result = %+v", res)
	}
	if f := res.Failures(); len(f) != 1 || !errors.Is(f[0].Err, internalerr.ErrSourceUnavailable) {
		t.Errorf("failures = %+v", f)
	}
	// Day 3 reuses the topic created on day 1.
	if reg.Len() != 3 {
		t.Errorf("registry has %d topics, want 3", reg.Len())
	}
	if want := map[int64]int{1: 1, 3: 1}; !reflect.DeepEqual(countsOf(t, st, june3), want) {
		t.Errorf("june3 counts = %v, want %v", countsOf(t, st, june3), want)
	}
	if days, _ := st.GetDays(ctx, "swiggy", june2, june2); len(days) != 0 {
		t.Errorf("failed day was recorded")
	}
}

func TestReplaySkipsMissingDays(t *testing.T) {
	p := newProcessor(t, memstore.New())
	src := SourceFunc(func(context.Context, string, time.Time) ([]review.Review, error) {
		return nil, fmt.Errorf("%w: no local file", internalerr.ErrNotFound)
	})

	_, res, err := p.Replay(context.Background(), seededRegistry(t), june1, june2, src)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.Skipped != 2 || res.Processed != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestReprocessingEarlierDayKeepsTopicIdentity(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	p := newProcessor(t, st)

	reg, _, err := p.ProcessDay(ctx, seededRegistry(t), june1, reviews("search filters broken"))
	if err != nil {
		t.Fatalf("ProcessDay: %v", err)
	}
	reg, _, err = p.ProcessDay(ctx, reg, june2, reviews("delivery late", "search filters broken"))
	if err != nil {
		t.Fatalf("ProcessDay: %v", err)
	}
	before := reg.Topics()

	reg, _, err = p.ProcessDay(ctx, reg, june1, reviews("search filters broken"))
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	after := reg.Topics()
	if len(after) < len(before) {
		t.Fatalf("registry shrank %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Label != after[i].Label {
			t.Errorf("topic %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if want := map[int64]int{3: 1}; !reflect.DeepEqual(countsOf(t, st, june1), want) {
		t.Errorf("june1 counts = %v", countsOf(t, st, june1))
	}
}

func TestReplayRejectsReversedRange(t *testing.T) {
	p := newProcessor(t, memstore.New())
	if _, _, err := p.Replay(context.Background(), seededRegistry(t), june3, june1, SourceFunc(nil)); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}
