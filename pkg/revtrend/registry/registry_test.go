package registry

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/store"
)

var day0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestLookupOrCreateThresholdInclusive(t *testing.T) {
	r := New("app", DefaultConfig())
	seedID, _, err := r.Seed("Delivery issue", []float32{1, 0, 0, 0, 0}, day0)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}

	// cosine((1,0,0,0,0), (3,2,1,1,1)) == 0.75 exactly
	a, err := r.LookupOrCreate("late order", []float32{3, 2, 1, 1, 1}, day0)
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if a.Created || a.TopicID != seedID {
		t.Fatalf("expected merge into %d at 0.75, got %+v", seedID, a)
	}
	if a.Similarity != 0.75 {
		t.Errorf("similarity = %v, want 0.75", a.Similarity)
	}

	topic, _ := r.Topic(seedID)
	found := false
	for _, alias := range topic.Aliases {
		if alias == "late order" {
			found = true
		}
	}
	if !found {
		t.Errorf("alias not recorded: %v", topic.Aliases)
	}
}

func TestLookupOrCreateMergeAndCreate(t *testing.T) {
	tests := []struct {
		name    string
		vec     []float32
		created bool
	}{
		{"similar phrasing merges", []float32{0.81, 0.5864}, false},
		{"distant phrasing creates", []float32{3, 4}, true}, // cosine 0.6
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("app", DefaultConfig())
			if _, _, err := r.Seed("Food stale", []float32{1, 0}, day0); err != nil {
				t.Fatalf("Seed: %v", err)
			}
			a, err := r.LookupOrCreate("food was cold", tt.vec, day0)
			if err != nil {
				t.Fatalf("LookupOrCreate: %v", err)
			}
			if a.Created != tt.created {
				t.Fatalf("created = %v, want %v (sim %.3f)", a.Created, tt.created, a.Similarity)
			}
			want := 1
			if tt.created {
				want = 2
				if r.Label(a.TopicID) != "Food was cold" {
					t.Errorf("label = %q", r.Label(a.TopicID))
				}
				topic, _ := r.Topic(a.TopicID)
				if topic.CreatedBy != store.CreatedByDiscovered || !topic.FirstSeen.Equal(day0) {
					t.Errorf("unexpected topic %+v", topic)
				}
			}
			if r.Len() != want {
				t.Errorf("Len = %d, want %d", r.Len(), want)
			}
		})
	}
}

func TestLookupOrCreateTieGoesToLowestID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 0.7
	r := New("app", cfg)
	r.Seed("B side", []float32{0, 1}, day0)
	r.Seed("A side", []float32{1, 0}, day0)

	a, err := r.LookupOrCreate("both sides", []float32{1, 1}, day0)
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if a.TopicID != 1 {
		t.Errorf("tie resolved to %d, want 1", a.TopicID)
	}
}

func TestTieWindowIgnoresTopicsBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epsilon = 0.01
	r := New("app", cfg)
	below := float32(math.Sqrt(1 - 0.745*0.745))
	r.Seed("Near miss", []float32{0.745, below, 0, 0, 0}, day0)
	passing, _, _ := r.Seed("Exact match", []float32{3, 2, 1, 1, 1}, day0) // cosine 0.75

	a, err := r.LookupOrCreate("late order", []float32{1, 0, 0, 0, 0}, day0)
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if a.Created || a.TopicID != passing {
		t.Fatalf("expected merge into %d, got %+v", passing, a)
	}
	if a.Similarity < cfg.Threshold {
		t.Errorf("similarity %v below threshold", a.Similarity)
	}
	if r.Len() != 2 {
		t.Errorf("registry grew to %d topics", r.Len())
	}
}

func TestLinearIndexNearestFloor(t *testing.T) {
	idx := NewLinearIndex()
	idx.Add(1, []float32{0.6, 0.8})
	idx.Add(2, []float32{0.8, 0.6})

	// both within epsilon, only id 2 reaches the floor
	m, ok := idx.Nearest([]float32{1, 0}, 0.7, 0.5)
	if !ok || m.ID != 2 {
		t.Fatalf("got %+v, want id 2", m)
	}
	// nothing reaches the floor: best is still reported
	m, ok = idx.Nearest([]float32{1, 0}, 0.9, 1e-6)
	if !ok || m.ID != 2 || math.Abs(m.Similarity-0.8) > 1e-6 {
		t.Fatalf("got %+v, want id 2 at 0.8", m)
	}
}

func TestLookupOrCreateDeterministic(t *testing.T) {
	inputs := []struct {
		text string
		vec  []float32
	}{
		{"slow delivery", []float32{1, 0, 0}},
		{"late delivery", []float32{0.9, 0.1, 0}},
		{"bad taste", []float32{0, 1, 0}},
		{"refund pending", []float32{0, 0, 1}},
		{"stale food", []float32{0.1, 0.9, 0.1}},
	}
	run := func() []int64 {
		r := New("app", DefaultConfig())
		var ids []int64
		for _, in := range inputs {
			a, err := r.LookupOrCreate(in.text, in.vec, day0)
			if err != nil {
				t.Fatalf("LookupOrCreate: %v", err)
			}
			ids = append(ids, a.TopicID)
		}
		return ids
	}
	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("run differs at %d: %v vs %v", i, first, second)
		}
	}
	if first[0] != first[1] || first[2] != first[4] || first[3] == first[0] {
		t.Errorf("unexpected grouping %v", first)
	}
}

func TestCapacityRoutesToSink(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTopics = 2
	r := New("app", cfg)

	r.LookupOrCreate("one", []float32{1, 0, 0}, day0)
	r.LookupOrCreate("two", []float32{0, 1, 0}, day0)

	a, err := r.LookupOrCreate("three", []float32{0, 0, 1}, day0)
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if !a.Sink || !a.Created {
		t.Fatalf("expected new sink, got %+v", a)
	}
	if r.Label(a.TopicID) != SinkLabel {
		t.Errorf("sink label = %q", r.Label(a.TopicID))
	}

	b, _ := r.LookupOrCreate("four", []float32{0, 0, 1}, day0)
	if !b.Sink || b.Created || b.TopicID != a.TopicID {
		t.Errorf("expected reuse of sink, got %+v", b)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}

	// Matching still works when full.
	c, _ := r.LookupOrCreate("uno", []float32{1, 0, 0}, day0)
	if c.Sink || c.TopicID != 1 {
		t.Errorf("expected merge into 1, got %+v", c)
	}
}

func TestSeedIdempotent(t *testing.T) {
	r := New("app", DefaultConfig())
	id1, created, err := r.Seed("Payment issue", []float32{1, 0}, day0)
	if err != nil || !created {
		t.Fatalf("Seed: %v %v", created, err)
	}
	id2, created, err := r.Seed("payment issue", []float32{0, 1}, day0)
	if err != nil || created || id2 != id1 {
		t.Fatalf("reseed: id=%d created=%v err=%v", id2, created, err)
	}
	if got, ok := r.SeedID("Payment Issue"); !ok || got != id1 {
		t.Errorf("SeedID = %d %v", got, ok)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := New("app", DefaultConfig())
	r.Seed("Delivery issue", []float32{1, 0}, day0)
	r.MarkClean()

	c := r.Clone()
	c.LookupOrCreate("bad packaging", []float32{0, 1}, day0)
	c.LookupOrCreate("late", []float32{1, 0.1}, day0)

	if r.Len() != 1 {
		t.Errorf("original grew to %d", r.Len())
	}
	if len(r.Changed()) != 0 {
		t.Errorf("original has changes: %v", r.Changed())
	}
	orig, _ := r.Topic(1)
	if len(orig.Aliases) != 1 {
		t.Errorf("original aliases changed: %v", orig.Aliases)
	}
	if got := len(c.Changed()); got != 2 {
		t.Errorf("clone changed = %d, want 2", got)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	r := New("app", DefaultConfig())
	r.Seed("Delivery issue", []float32{1, 0}, day0)
	r.LookupOrCreate("bad packaging", []float32{0, 1}, day0)

	loaded, err := Load("app", DefaultConfig(), r.Records())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 2 || len(loaded.Changed()) != 0 {
		t.Fatalf("Len=%d changed=%d", loaded.Len(), len(loaded.Changed()))
	}
	if id, ok := loaded.SeedID("delivery issue"); !ok || id != 1 {
		t.Errorf("seed lookup after load: %d %v", id, ok)
	}
	a, _ := loaded.LookupOrCreate("new thing", []float32{-1, 0}, day0)
	if a.TopicID != 3 {
		t.Errorf("next id = %d, want 3", a.TopicID)
	}
}

func TestLoadRejectsCorruptState(t *testing.T) {
	tests := []struct {
		name    string
		records []store.Topic
	}{
		{"duplicate id", []store.Topic{
			{ID: 1, Label: "a", Embedding: []float32{1}, CreatedBy: store.CreatedBySeed},
			{ID: 1, Label: "b", Embedding: []float32{1}, CreatedBy: store.CreatedByDiscovered},
		}},
		{"missing embedding", []store.Topic{
			{ID: 1, Label: "a", CreatedBy: store.CreatedByDiscovered},
		}},
		{"dims mismatch", []store.Topic{
			{ID: 1, Label: "a", Embedding: []float32{1, 0}, CreatedBy: store.CreatedBySeed},
			{ID: 2, Label: "b", Embedding: []float32{1}, CreatedBy: store.CreatedByDiscovered},
		}},
		{"unknown creator", []store.Topic{
			{ID: 1, Label: "a", Embedding: []float32{1}, CreatedBy: "robot"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("app", DefaultConfig(), tt.records)
			if !errors.Is(err, internalerr.ErrCorruptState) {
				t.Errorf("err = %v, want ErrCorruptState", err)
			}
		})
	}
}

func TestLookupOrCreateRejectsBadInput(t *testing.T) {
	r := New("app", DefaultConfig())
	r.Seed("Delivery issue", []float32{1, 0}, day0)

	if _, err := r.LookupOrCreate("", []float32{1, 0}, day0); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("empty text err = %v", err)
	}
	if _, err := r.LookupOrCreate("x y", []float32{1, 0, 0}, day0); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("dims err = %v", err)
	}
}

func TestDeriveLabel(t *testing.T) {
	tests := map[string]string{
		"food was cold":    "Food was cold",
		"  spaced   out  ": "Spaced out",
		"one two three four five six seven eight nine": "One two three four five six seven eight",
	}
	for in, want := range tests {
		if got := deriveLabel(in); got != want {
			t.Errorf("deriveLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
