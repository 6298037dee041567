// Package revtrend is the facade over the review topic pipeline: it loads
// and seeds per-app registries, runs days through the batch processor, and
// builds trend reports from what was committed.
package revtrend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cognicore/revtrend/pkg/revtrend/batch"
	"github.com/cognicore/revtrend/pkg/revtrend/discovery"
	"github.com/cognicore/revtrend/pkg/revtrend/embed"
	"github.com/cognicore/revtrend/pkg/revtrend/extract"
	"github.com/cognicore/revtrend/pkg/revtrend/ingest"
	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/registry"
	"github.com/cognicore/revtrend/pkg/revtrend/report"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
	"github.com/cognicore/revtrend/pkg/revtrend/store"
)

// App identifies a tracked app and its seed topics.
type App struct {
	ID    string
	Seeds []ingest.SeedTopic
}

// Options configures an Engine.
type Options struct {
	Store      store.Store
	Tokenizer  *ingest.Tokenizer
	Encoder    embed.Encoder
	Discoverer discovery.Discoverer
	Registry   registry.Config
	Extract    extract.Config
	Logger     *slog.Logger
	Now        func() time.Time
}

// Engine is the main entry point. It is safe for concurrent use; work on
// the same app is serialized, different apps run independently.
type Engine struct {
	store     store.Store
	tokenizer *ingest.Tokenizer
	enc       embed.Encoder
	disc      discovery.Discoverer
	regCfg    registry.Config
	extCfg    extract.Config
	log       *slog.Logger
	now       func() time.Time
	reports   *report.Generator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Encoder == nil {
		return nil, fmt.Errorf("%w: engine needs a store and an encoder", internalerr.ErrInvalidConfig)
	}
	if opts.Tokenizer == nil {
		opts.Tokenizer = ingest.NewTokenizer(ingest.DefaultStopwords)
	}
	if opts.Registry == (registry.Config{}) {
		opts.Registry = registry.DefaultConfig()
	}
	if opts.Extract == (extract.Config{}) {
		opts.Extract = extract.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:     opts.Store,
		tokenizer: opts.Tokenizer,
		enc:       opts.Encoder,
		disc:      opts.Discoverer,
		regCfg:    opts.Registry,
		extCfg:    opts.Extract,
		log:       opts.Logger,
		now:       opts.Now,
		reports:   report.NewGenerator(opts.Store),
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// Close cleanly shuts down the engine and its store.
func (e *Engine) Close() error {
	return e.store.Close()
}

func (e *Engine) lock(appID string) func() {
	e.mu.Lock()
	l, ok := e.locks[appID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[appID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// LoadRegistry reads the persisted registry of appID without seeding it.
func (e *Engine) LoadRegistry(ctx context.Context, appID string) (*registry.Registry, error) {
	records, err := e.store.LoadTopics(ctx, appID)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Load(appID, e.regCfg, records)
	if err != nil {
		return nil, err
	}
	if reg.Dims() != 0 && reg.Dims() != e.enc.Dims() {
		return nil, fmt.Errorf("%w: registry %s holds %d-dim vectors but encoder %s yields %d",
			internalerr.ErrInvalidConfig, appID, reg.Dims(), e.enc.Name(), e.enc.Dims())
	}
	return reg, nil
}

// seed adds any of app's seed topics the registry is missing. New seeds are
// persisted with the next committed day.
func (e *Engine) seed(ctx context.Context, reg *registry.Registry, app App, day time.Time) error {
	var labels []string
	for _, s := range app.Seeds {
		if _, ok := reg.SeedID(s.Label); !ok {
			labels = append(labels, s.Label)
		}
	}
	if len(labels) == 0 {
		return nil
	}
	vecs, err := e.enc.Encode(ctx, labels)
	if err == nil && len(vecs) != len(labels) {
		err = fmt.Errorf("%w: %s returned %d vectors for %d seeds", internalerr.ErrEmbeddingFailure, e.enc.Name(), len(vecs), len(labels))
	}
	if err != nil {
		return fmt.Errorf("embed seed topics: %w", err)
	}
	for i, label := range labels {
		if _, _, err := reg.Seed(label, vecs[i], day); err != nil {
			return fmt.Errorf("seed %q: %w", label, err)
		}
	}
	return nil
}

func (e *Engine) processor(app App) (*batch.Processor, error) {
	var keywords *ingest.KeywordMatcher
	if len(app.Seeds) > 0 {
		keywords = ingest.NewKeywordMatcher(e.tokenizer, app.Seeds)
	}
	ex, err := extract.New(extract.Options{
		Config:     e.extCfg,
		Tokenizer:  e.tokenizer,
		Keywords:   keywords,
		Encoder:    e.enc,
		Discoverer: e.disc,
		Logger:     e.log,
	})
	if err != nil {
		return nil, err
	}
	return batch.New(batch.Options{Store: e.store, Extractor: ex, Logger: e.log, Now: e.now})
}

func (e *Engine) prepare(ctx context.Context, app App, day time.Time) (*registry.Registry, *batch.Processor, error) {
	if app.ID == "" {
		return nil, nil, fmt.Errorf("%w: app id required", internalerr.ErrInvalidInput)
	}
	reg, err := e.LoadRegistry(ctx, app.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.seed(ctx, reg, app, day); err != nil {
		return nil, nil, err
	}
	proc, err := e.processor(app)
	if err != nil {
		return nil, nil, err
	}
	return reg, proc, nil
}

// ProcessDay extracts topics from one day of reviews and commits the
// counts, replacing whatever was stored for that day.
func (e *Engine) ProcessDay(ctx context.Context, app App, day time.Time, reviews []review.Review) (batch.DayResult, error) {
	defer e.lock(app.ID)()

	reg, proc, err := e.prepare(ctx, app, day)
	if err != nil {
		return batch.DayResult{}, err
	}
	_, res, err := proc.ProcessDay(ctx, reg, day, reviews)
	return res, err
}

// Replay processes [from, to] in order, pulling reviews from src.
func (e *Engine) Replay(ctx context.Context, app App, from, to time.Time, src batch.Source) (batch.ReplayResult, error) {
	defer e.lock(app.ID)()

	reg, proc, err := e.prepare(ctx, app, from)
	if err != nil {
		return batch.ReplayResult{AppID: app.ID}, err
	}
	_, res, err := proc.Replay(ctx, reg, from, to, src)
	return res, err
}

// Report builds the trend matrix for the window ending at target.
func (e *Engine) Report(ctx context.Context, appID string, target time.Time, window int) (*report.Matrix, error) {
	return e.reports.Build(ctx, appID, target, window)
}

// Topics lists appID's persisted topics in id order.
func (e *Engine) Topics(ctx context.Context, appID string) ([]registry.Topic, error) {
	reg, err := e.LoadRegistry(ctx, appID)
	if err != nil {
		return nil, err
	}
	return reg.Topics(), nil
}

// Apps lists every app with persisted state.
func (e *Engine) Apps(ctx context.Context) ([]string, error) {
	return e.store.Apps(ctx)
}
