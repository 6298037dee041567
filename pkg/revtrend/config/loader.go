package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cognicore/revtrend/internal/llm"
	"github.com/cognicore/revtrend/internal/reviewsource"
	"github.com/cognicore/revtrend/pkg/revtrend/discovery"
	"github.com/cognicore/revtrend/pkg/revtrend/embed"
	"github.com/cognicore/revtrend/pkg/revtrend/extract"
	"github.com/cognicore/revtrend/pkg/revtrend/ingest"
	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/registry"
)

// Loader turns a Config into runtime components.
type Loader struct {
	Config *Config
	Logger *slog.Logger
	// Getenv resolves API keys; os.Getenv when nil.
	Getenv func(string) string
}

// Components holds everything built from configuration.
type Components struct {
	Tokenizer  *ingest.Tokenizer
	Encoder    embed.Encoder
	Discoverer discovery.Discoverer
	Registry   registry.Config
	Extract    extract.Config
}

// Load builds the shared components.
func (l *Loader) Load() (*Components, error) {
	cfg := l.Config
	if cfg == nil {
		cfg = Default()
	}
	comp := &Components{
		Registry: registry.Config{
			Threshold: cfg.Registry.Threshold,
			MaxTopics: cfg.Registry.MaxTopics,
			Epsilon:   registry.DefaultEpsilon,
		},
		Extract: extract.Config{
			MinReviewLength:    cfg.Extract.MinReviewLength,
			MinConfidence:      cfg.Extract.MinConfidence,
			MinCandidateTokens: cfg.Extract.MinCandidateTokens,
			MaxCandidates:      cfg.Extract.MaxCandidates,
			Workers:            cfg.Extract.Workers,
		},
	}

	if len(cfg.Stopwords) > 0 {
		comp.Tokenizer = ingest.NewTokenizer(cfg.Stopwords)
	} else {
		comp.Tokenizer = ingest.NewTokenizer(ingest.DefaultStopwords)
	}

	enc, err := l.encoder(cfg, comp.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("load embedder: %w", err)
	}
	comp.Encoder = enc

	disc, err := l.discoverer(cfg)
	if err != nil {
		return nil, fmt.Errorf("load discovery: %w", err)
	}
	comp.Discoverer = disc
	return comp, nil
}

func (l *Loader) encoder(cfg *Config, tok *ingest.Tokenizer) (embed.Encoder, error) {
	var base embed.Encoder
	switch cfg.Embedder.Type {
	case "hash":
		base = embed.NewHash(tok, cfg.Embedder.Dims)
	case "openai":
		oc := cfg.Embedder.OpenAI
		if oc == nil {
			oc = openAIDefaults(nil, "text-embedding-3-small")
		}
		key := l.getenv(oc.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("%w: %s is not set", internalerr.ErrInvalidConfig, oc.APIKeyEnv)
		}
		o, err := embed.NewOpenAI(embed.OpenAIConfig{
			APIKey:  key,
			BaseURL: oc.BaseURL,
			Model:   oc.Model,
			Dims:    cfg.Embedder.Dims,
		})
		if err != nil {
			return nil, err
		}
		base = embed.WithTimeout(o, time.Duration(cfg.Embedder.TimeoutSecs)*time.Second)
	default:
		return nil, fmt.Errorf("%w: embedder type %q", internalerr.ErrInvalidConfig, cfg.Embedder.Type)
	}
	if cfg.Embedder.CacheSize <= 0 {
		return base, nil
	}
	cached, err := embed.NewCached(base, cfg.Embedder.CacheSize)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

func (l *Loader) discoverer(cfg *Config) (discovery.Discoverer, error) {
	timeout := time.Duration(cfg.Discovery.TimeoutSecs) * time.Second
	oc := cfg.Discovery.OpenAI
	if oc == nil {
		oc = openAIDefaults(nil, "gpt-4o-mini")
	}
	switch cfg.Discovery.Type {
	case "", "none":
		return discovery.Nop{}, nil
	case "openai":
		key := l.getenv(oc.APIKeyEnv)
		if key == "" {
			l.logger().Warn("discovery disabled", "reason", oc.APIKeyEnv+" not set")
			return discovery.Nop{}, nil
		}
		d, err := discovery.NewOpenAI(discovery.OpenAIConfig{
			APIKey:    key,
			BaseURL:   oc.BaseURL,
			Model:     oc.Model,
			MaxLabels: cfg.Discovery.MaxLabels,
		})
		if err != nil {
			return nil, err
		}
		return discovery.WithTimeout(d, timeout), nil
	case "chat":
		client := &llm.Client{
			BaseURL:     oc.BaseURL,
			APIKey:      l.getenv(oc.APIKeyEnv),
			Model:       oc.Model,
			MaxTokens:   100,
			Temperature: 0.3,
		}
		return discovery.WithTimeout(discovery.NewChat(client, cfg.Discovery.MaxLabels), timeout), nil
	default:
		return nil, fmt.Errorf("%w: discovery type %q", internalerr.ErrInvalidConfig, cfg.Discovery.Type)
	}
}

// Source builds the review source. With fetch set, days missing locally are
// pulled from the HTTP source and cached on disk.
func (l *Loader) Source(fetch bool) *reviewsource.CachingSource {
	cfg := l.Config
	if cfg == nil {
		cfg = Default()
	}
	local := reviewsource.NewFileSource(cfg.Source.ReviewsDir)
	local.Logger = l.logger()
	cs := &reviewsource.CachingSource{Local: local, Logger: l.logger()}
	if !fetch {
		return cs
	}
	h := cfg.Source.HTTP
	packages := make(map[string]string, len(cfg.Apps))
	for key, app := range cfg.Apps {
		packages[key] = app.Package
	}
	cs.Remote = reviewsource.NewHTTPSource(reviewsource.HTTPConfig{
		BaseURL:    h.BaseURL,
		Lang:       h.Lang,
		Country:    h.Country,
		PageSize:   h.PageSize,
		MaxPages:   h.MaxPages,
		RatePerSec: h.RatePerSec,
		Burst:      h.Burst,
		Timeout:    time.Duration(h.TimeoutSecs) * time.Second,
		Packages:   packages,
	})
	return cs
}

func (l *Loader) getenv(key string) string {
	if l.Getenv != nil {
		return l.Getenv(key)
	}
	return os.Getenv(key)
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
