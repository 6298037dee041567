// Package registry owns the per-app set of canonical topics and every
// merge-or-create decision made against it.
//
// A Registry is not safe for concurrent writers. Callers serialize access
// per app and work on a Clone when a batch of changes must be applied
// atomically.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/store"
)

const (
	DefaultThreshold = 0.75
	DefaultMaxTopics = 50
	DefaultEpsilon   = 1e-6

	// SinkLabel names the catch-all topic used once capacity is reached.
	SinkLabel = "Other/Unclassified"

	maxLabelWords = 8
)

// Config controls merge behavior.
type Config struct {
	Threshold float64 // minimum cosine similarity to merge (inclusive)
	MaxTopics int     // seed + discovered topics; 0 means unlimited
	Epsilon   float64 // tie window below the best similarity
}

// DefaultConfig returns the stock merge settings.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		MaxTopics: DefaultMaxTopics,
		Epsilon:   DefaultEpsilon,
	}
}

// Topic is a canonical topic.
type Topic struct {
	ID        int64
	Label     string
	Embedding []float32
	Aliases   []string // sorted, distinct
	CreatedBy string
	FirstSeen time.Time
}

// Assignment is the outcome of LookupOrCreate.
type Assignment struct {
	TopicID    int64
	Similarity float64 // best similarity seen; 1 for a new topic
	Created    bool
	Sink       bool
}

// Registry is the canonical topic set of one app.
type Registry struct {
	appID  string
	cfg    Config
	topics []*Topic // ascending id
	byID   map[int64]*Topic
	seeds  map[string]int64 // lowercased seed label → id
	index  Index
	nextID int64
	sinkID int64
	dims   int
	dirty  map[int64]struct{}
}

// New creates an empty registry backed by a LinearIndex.
func New(appID string, cfg Config) *Registry {
	return NewWithIndex(appID, cfg, NewLinearIndex())
}

// NewWithIndex creates an empty registry with a custom similarity index.
func NewWithIndex(appID string, cfg Config, index Index) *Registry {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	return &Registry{
		appID:  appID,
		cfg:    cfg,
		byID:   make(map[int64]*Topic),
		seeds:  make(map[string]int64),
		index:  index,
		nextID: 1,
		dirty:  make(map[int64]struct{}),
	}
}

// Load rebuilds a registry from persisted records. Damaged records fail
// with ErrCorruptState; nothing is partially loaded.
func Load(appID string, cfg Config, records []store.Topic) (*Registry, error) {
	if err := store.ValidateTopics(records); err != nil {
		return nil, fmt.Errorf("load registry %s: %w", appID, err)
	}

	sorted := make([]store.Topic, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	r := New(appID, cfg)
	for _, rec := range sorted {
		t := &Topic{
			ID:        rec.ID,
			Label:     rec.Label,
			Embedding: cloneVector(rec.Embedding),
			Aliases:   uniqueSorted(rec.Aliases),
			CreatedBy: rec.CreatedBy,
			FirstSeen: rec.FirstSeen,
		}
		r.insert(t)
	}
	r.dirty = make(map[int64]struct{})
	return r, nil
}

// AppID returns the app this registry belongs to.
func (r *Registry) AppID() string { return r.appID }

// Config returns the merge settings.
func (r *Registry) Config() Config { return r.cfg }

// Dims returns the representative vector length, or 0 before the first
// topic with an embedding.
func (r *Registry) Dims() int { return r.dims }

// Len returns the number of topics, the sink included.
func (r *Registry) Len() int { return len(r.topics) }

// Seed adds a preconfigured topic without a similarity check. Seeding the
// same label twice returns the existing id.
func (r *Registry) Seed(label string, vec []float32, day time.Time) (int64, bool, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, false, fmt.Errorf("%w: empty seed label", internalerr.ErrInvalidInput)
	}
	if id, ok := r.seeds[strings.ToLower(label)]; ok {
		return id, false, nil
	}
	if err := r.checkVector(vec); err != nil {
		return 0, false, err
	}

	t := &Topic{
		ID:        r.nextID,
		Label:     label,
		Embedding: cloneVector(vec),
		Aliases:   []string{strings.ToLower(label)},
		CreatedBy: store.CreatedBySeed,
		FirstSeen: day,
	}
	r.insert(t)
	r.dirty[t.ID] = struct{}{}
	return t.ID, true, nil
}

// SeedID returns the id of the seed topic with the given label.
func (r *Registry) SeedID(label string) (int64, bool) {
	id, ok := r.seeds[strings.ToLower(strings.TrimSpace(label))]
	return id, ok
}

// LookupOrCreate maps a candidate phrase onto a canonical topic. The most
// similar topic is chosen when its similarity reaches the threshold (ties
// go to the oldest topic) and text is recorded as an alias. Otherwise a new
// topic is created from text, or, once the registry is full, the candidate
// is routed to the sink topic.
func (r *Registry) LookupOrCreate(text string, vec []float32, day time.Time) (Assignment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Assignment{}, fmt.Errorf("%w: empty candidate", internalerr.ErrInvalidInput)
	}
	if err := r.checkVector(vec); err != nil {
		return Assignment{}, err
	}

	best, ok := r.index.Nearest(vec, r.cfg.Threshold, r.cfg.Epsilon)
	if ok && best.Similarity >= r.cfg.Threshold {
		r.addAlias(best.ID, text)
		return Assignment{TopicID: best.ID, Similarity: best.Similarity}, nil
	}

	if r.full() {
		created := r.ensureSink(day)
		return Assignment{TopicID: r.sinkID, Similarity: best.Similarity, Created: created, Sink: true}, nil
	}

	t := &Topic{
		ID:        r.nextID,
		Label:     deriveLabel(text),
		Embedding: cloneVector(vec),
		Aliases:   []string{text},
		CreatedBy: store.CreatedByDiscovered,
		FirstSeen: day,
	}
	r.insert(t)
	r.dirty[t.ID] = struct{}{}
	return Assignment{TopicID: t.ID, Similarity: 1, Created: true}, nil
}

// Topic returns a copy of the topic with the given id.
func (r *Registry) Topic(id int64) (Topic, bool) {
	t, ok := r.byID[id]
	if !ok {
		return Topic{}, false
	}
	return copyTopic(t), true
}

// Label returns the display label of a topic, or "" if unknown.
func (r *Registry) Label(id int64) string {
	if t, ok := r.byID[id]; ok {
		return t.Label
	}
	return ""
}

// Topics returns copies of all topics in id order.
func (r *Registry) Topics() []Topic {
	out := make([]Topic, len(r.topics))
	for i, t := range r.topics {
		out[i] = copyTopic(t)
	}
	return out
}

// Records returns every topic in persisted form.
func (r *Registry) Records() []store.Topic {
	out := make([]store.Topic, len(r.topics))
	for i, t := range r.topics {
		out[i] = toRecord(t)
	}
	return out
}

// Changed returns the topics created or given new aliases since the last
// MarkClean, in id order.
func (r *Registry) Changed() []store.Topic {
	var out []store.Topic
	for _, t := range r.topics {
		if _, ok := r.dirty[t.ID]; ok {
			out = append(out, toRecord(t))
		}
	}
	return out
}

// MarkClean forgets pending changes after they have been persisted.
func (r *Registry) MarkClean() {
	r.dirty = make(map[int64]struct{})
}

// Clone returns an independent deep copy.
func (r *Registry) Clone() *Registry {
	c := &Registry{
		appID:  r.appID,
		cfg:    r.cfg,
		topics: make([]*Topic, 0, len(r.topics)),
		byID:   make(map[int64]*Topic, len(r.byID)),
		seeds:  make(map[string]int64, len(r.seeds)),
		index:  r.index.Clone(),
		nextID: r.nextID,
		sinkID: r.sinkID,
		dims:   r.dims,
		dirty:  make(map[int64]struct{}, len(r.dirty)),
	}
	for _, t := range r.topics {
		ct := copyTopic(t)
		c.topics = append(c.topics, &ct)
		c.byID[ct.ID] = &ct
	}
	for k, v := range r.seeds {
		c.seeds[k] = v
	}
	for k := range r.dirty {
		c.dirty[k] = struct{}{}
	}
	return c
}

func (r *Registry) insert(t *Topic) {
	r.topics = append(r.topics, t)
	r.byID[t.ID] = t
	if t.ID >= r.nextID {
		r.nextID = t.ID + 1
	}
	switch t.CreatedBy {
	case store.CreatedBySink:
		r.sinkID = t.ID
		return
	case store.CreatedBySeed:
		r.seeds[strings.ToLower(t.Label)] = t.ID
	}
	if r.dims == 0 {
		r.dims = len(t.Embedding)
	}
	r.index.Add(t.ID, t.Embedding)
}

func (r *Registry) full() bool {
	if r.cfg.MaxTopics <= 0 {
		return false
	}
	n := len(r.topics)
	if r.sinkID != 0 {
		n--
	}
	return n >= r.cfg.MaxTopics
}

func (r *Registry) ensureSink(day time.Time) bool {
	if r.sinkID != 0 {
		return false
	}
	t := &Topic{
		ID:        r.nextID,
		Label:     SinkLabel,
		CreatedBy: store.CreatedBySink,
		FirstSeen: day,
	}
	r.insert(t)
	r.dirty[t.ID] = struct{}{}
	return true
}

func (r *Registry) addAlias(id int64, text string) {
	t := r.byID[id]
	i := sort.SearchStrings(t.Aliases, text)
	if i < len(t.Aliases) && t.Aliases[i] == text {
		return
	}
	t.Aliases = append(t.Aliases, "")
	copy(t.Aliases[i+1:], t.Aliases[i:])
	t.Aliases[i] = text
	r.dirty[id] = struct{}{}
}

func (r *Registry) checkVector(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty embedding", internalerr.ErrInvalidInput)
	}
	if r.dims != 0 && len(vec) != r.dims {
		return fmt.Errorf("%w: embedding has %d dims, registry uses %d", internalerr.ErrInvalidInput, len(vec), r.dims)
	}
	return nil
}

// deriveLabel turns a candidate phrase into a display label: at most a few
// words, first letter upper-cased.
func deriveLabel(text string) string {
	words := strings.Fields(text)
	if len(words) > maxLabelWords {
		words = words[:maxLabelWords]
	}
	label := strings.Join(words, " ")
	runes := []rune(label)
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}

func toRecord(t *Topic) store.Topic {
	return store.Topic{
		ID:        t.ID,
		Label:     t.Label,
		Embedding: cloneVector(t.Embedding),
		Aliases:   append([]string(nil), t.Aliases...),
		CreatedBy: t.CreatedBy,
		FirstSeen: t.FirstSeen,
	}
}

func copyTopic(t *Topic) Topic {
	return Topic{
		ID:        t.ID,
		Label:     t.Label,
		Embedding: cloneVector(t.Embedding),
		Aliases:   append([]string(nil), t.Aliases...),
		CreatedBy: t.CreatedBy,
		FirstSeen: t.FirstSeen,
	}
}

func cloneVector(vec []float32) []float32 {
	if vec == nil {
		return nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
