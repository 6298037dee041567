// Package extract assigns reviews to canonical topics.
//
// Extraction runs in two phases. Prepare does the expensive, registry-free
// work (keyword matching, clause splitting, embedding, discovery) in
// parallel across reviews. Assign then walks the prepared reviews serially
// in input order and feeds candidates through the registry, so the
// resulting topic ids never depend on goroutine scheduling.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/cognicore/revtrend/pkg/revtrend/discovery"
	"github.com/cognicore/revtrend/pkg/revtrend/embed"
	"github.com/cognicore/revtrend/pkg/revtrend/ingest"
	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/registry"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
)

const (
	DefaultMinReviewLength    = 10
	DefaultMinCandidateTokens = 2
	DefaultMaxCandidates      = 8
	DefaultWorkers            = 8
)

// Stage identifies which pass produced a hit.
type Stage int

const (
	StageKeyword Stage = iota + 1
	StageSemantic
	StageDiscovery
)

func (s Stage) String() string {
	switch s {
	case StageKeyword:
		return "keyword"
	case StageSemantic:
		return "semantic"
	case StageDiscovery:
		return "discovery"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// TopicHit is one topic assigned to a review.
type TopicHit struct {
	TopicID    int64
	Confidence float64
	Stage      Stage
}

// Config tunes extraction.
type Config struct {
	MinReviewLength    int     // shorter reviews are topic-less
	MinConfidence      float64 // hits below this are dropped
	MinCandidateTokens int     // content tokens a clause needs to become a candidate
	MaxCandidates      int     // semantic candidates per review
	Workers            int     // parallel Prepare workers
}

// DefaultConfig returns the stock extraction settings.
func DefaultConfig() Config {
	return Config{
		MinReviewLength:    DefaultMinReviewLength,
		MinCandidateTokens: DefaultMinCandidateTokens,
		MaxCandidates:      DefaultMaxCandidates,
		Workers:            DefaultWorkers,
	}
}

// Options wires an Extractor.
type Options struct {
	Config     Config
	Tokenizer  *ingest.Tokenizer
	Keywords   *ingest.KeywordMatcher // nil disables the keyword pass
	Encoder    embed.Encoder
	Discoverer discovery.Discoverer // nil disables discovery
	Logger     *slog.Logger
}

// Extractor maps reviews onto registry topics.
type Extractor struct {
	cfg       Config
	tokenizer *ingest.Tokenizer
	keywords  *ingest.KeywordMatcher
	enc       embed.Encoder
	disc      discovery.Discoverer
	log       *slog.Logger
}

// New validates options and builds an Extractor.
func New(opts Options) (*Extractor, error) {
	if opts.Encoder == nil {
		return nil, fmt.Errorf("%w: extractor needs an encoder", internalerr.ErrInvalidConfig)
	}
	cfg := opts.Config
	if cfg.MinReviewLength < 0 || cfg.MinCandidateTokens < 0 || cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("%w: extractor config %+v", internalerr.ErrInvalidConfig, cfg)
	}
	if cfg.MinCandidateTokens == 0 {
		cfg.MinCandidateTokens = 1
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	tok := opts.Tokenizer
	if tok == nil {
		tok = ingest.NewTokenizer(ingest.DefaultStopwords)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		cfg:       cfg,
		tokenizer: tok,
		keywords:  opts.Keywords,
		enc:       opts.Encoder,
		disc:      opts.Discoverer,
		log:       log,
	}, nil
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config { return e.cfg }

// Candidate is a phrase waiting for registry assignment.
type Candidate struct {
	Text   string
	Vector []float32
	Stage  Stage
}

// Prepared is the registry-independent analysis of one review.
type Prepared struct {
	Review     review.Review
	Short      bool     // below MinReviewLength
	Seeds      []string // seed labels hit by the keyword pass, in order
	Candidates []Candidate
}

// Prepare analyzes reviews in parallel. Results are in input order. The
// only error is cancellation of ctx.
func (e *Extractor) Prepare(ctx context.Context, reviews []review.Review) ([]Prepared, error) {
	out := make([]Prepared, len(reviews))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range reviews {
		i := i
		g.Go(func() error {
			p, err := e.prepareOne(gctx, reviews[i])
			if err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Extractor) prepareOne(ctx context.Context, r review.Review) (Prepared, error) {
	p := Prepared{Review: r}
	if err := ctx.Err(); err != nil {
		return p, err
	}
	if utf8.RuneCountInString(strings.TrimSpace(r.Text)) < e.cfg.MinReviewLength {
		p.Short = true
		return p, nil
	}

	var residual []string
	seen := make(map[string]struct{})
	for _, clause := range ingest.SplitClauses(r.Text) {
		var matches []ingest.KeywordMatch
		if e.keywords != nil {
			matches = e.keywords.MatchText(clause)
		}
		if len(matches) == 0 {
			residual = append(residual, clause)
			continue
		}
		for _, m := range matches {
			if _, dup := seen[m.Label]; dup {
				continue
			}
			seen[m.Label] = struct{}{}
			p.Seeds = append(p.Seeds, m.Label)
		}
	}

	texts := e.candidateTexts(residual)
	if len(texts) > 0 {
		cands, err := e.embedAll(ctx, r, texts, StageSemantic)
		if err != nil {
			return p, err
		}
		p.Candidates = append(p.Candidates, cands...)
	}

	if e.disc != nil && len(residual) > 0 {
		cands, err := e.discover(ctx, r, strings.Join(residual, ". "))
		if err != nil {
			return p, err
		}
		p.Candidates = append(p.Candidates, cands...)
	}
	return p, nil
}

// candidateTexts turns residual clauses into candidate phrases, trimmed of
// leading and trailing stopwords.
func (e *Extractor) candidateTexts(clauses []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, clause := range clauses {
		words := e.tokenizer.Words(clause)
		if len(e.tokenizer.Content(words)) < e.cfg.MinCandidateTokens {
			continue
		}
		words = e.trimStopwords(words)
		text := strings.Join(words, " ")
		if _, dup := seen[text]; dup || text == "" {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
		if len(out) == e.cfg.MaxCandidates {
			break
		}
	}
	return out
}

func (e *Extractor) trimStopwords(words []string) []string {
	start, end := 0, len(words)
	for start < end && e.tokenizer.IsStopword(words[start]) {
		start++
	}
	for end > start && e.tokenizer.IsStopword(words[end-1]) {
		end--
	}
	return words[start:end]
}

// embedAll encodes texts in one call. An encoder failure turns every text
// into noise; only cancellation is returned.
func (e *Extractor) embedAll(ctx context.Context, r review.Review, texts []string, stage Stage) ([]Candidate, error) {
	vecs, err := e.enc.Encode(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("%s returned %d vectors for %d texts", e.enc.Name(), len(vecs), len(texts))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(err, internalerr.ErrEmbeddingFailure) {
			err = fmt.Errorf("%w: %v", internalerr.ErrEmbeddingFailure, err)
		}
		e.log.Warn("embedding failed; candidates dropped",
			"review", r.ID, "stage", stage.String(), "candidates", len(texts), "err", err)
		return nil, nil
	}

	out := make([]Candidate, 0, len(texts))
	for i, text := range texts {
		if len(vecs[i]) == 0 {
			continue
		}
		out = append(out, Candidate{Text: text, Vector: vecs[i], Stage: stage})
	}
	return out, nil
}

func (e *Extractor) discover(ctx context.Context, r review.Review, residual string) ([]Candidate, error) {
	labels, err := e.disc.Discover(ctx, residual)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.log.Warn("discovery failed", "review", r.ID, "discoverer", e.disc.Name(), "err", err)
		return nil, nil
	}
	var texts []string
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label != "" {
			texts = append(texts, label)
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embedAll(ctx, r, texts, StageDiscovery)
}

// Assign maps a prepared review onto the registry. Hits are deduplicated by
// topic (highest confidence wins) and returned in topic id order.
func (e *Extractor) Assign(reg *registry.Registry, p Prepared) []TopicHit {
	if p.Short {
		return nil
	}
	best := make(map[int64]TopicHit)
	keep := func(h TopicHit) {
		if cur, ok := best[h.TopicID]; !ok || h.Confidence > cur.Confidence {
			best[h.TopicID] = h
		}
	}

	for _, label := range p.Seeds {
		id, ok := reg.SeedID(label)
		if !ok {
			e.log.Debug("keyword label has no seed topic", "app", reg.AppID(), "label", label)
			continue
		}
		keep(TopicHit{TopicID: id, Confidence: 1, Stage: StageKeyword})
	}

	day := p.Review.Day
	for _, c := range p.Candidates {
		a, err := reg.LookupOrCreate(c.Text, c.Vector, day)
		if err != nil {
			e.log.Warn("candidate rejected", "review", p.Review.ID, "text", c.Text, "err", err)
			continue
		}
		switch {
		case a.Sink:
			e.log.Debug("candidate routed to sink",
				"app", reg.AppID(), "text", c.Text, "err", internalerr.ErrRegistryCapacity)
		case a.Created:
			e.log.Info("new topic", "app", reg.AppID(), "id", a.TopicID, "label", reg.Label(a.TopicID), "stage", c.Stage.String())
		}
		keep(TopicHit{TopicID: a.TopicID, Confidence: clamp01(a.Similarity), Stage: c.Stage})
	}

	hits := make([]TopicHit, 0, len(best))
	for _, h := range best {
		if h.Confidence >= e.cfg.MinConfidence {
			hits = append(hits, h)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].TopicID < hits[j].TopicID })
	return hits
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Extract prepares and assigns a single review.
func (e *Extractor) Extract(ctx context.Context, reg *registry.Registry, r review.Review) ([]TopicHit, error) {
	prepared, err := e.prepareOne(ctx, r)
	if err != nil {
		return nil, err
	}
	return e.Assign(reg, prepared), nil
}

// ExtractAll runs both phases over a batch. Result i belongs to reviews[i].
func (e *Extractor) ExtractAll(ctx context.Context, reg *registry.Registry, reviews []review.Review) ([][]TopicHit, error) {
	prepared, err := e.Prepare(ctx, reviews)
	if err != nil {
		return nil, err
	}
	out := make([][]TopicHit, len(prepared))
	for i, p := range prepared {
		out[i] = e.Assign(reg, p)
	}
	return out, nil
}
