package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
)

// Seed is a preconfigured topic and the phrases that hit it directly.
type Seed struct {
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
}

// App describes one tracked app.
type App struct {
	Name    string `yaml:"name"`
	Package string `yaml:"package"`
	Seeds   []Seed `yaml:"seeds"`
}

// RegistryConfig controls topic merging.
type RegistryConfig struct {
	Threshold float64 `yaml:"threshold"`
	MaxTopics int     `yaml:"max_topics"`
}

// ExtractConfig controls per-review extraction.
type ExtractConfig struct {
	MinReviewLength    int     `yaml:"min_review_length"`
	MinConfidence      float64 `yaml:"min_confidence"`
	MinCandidateTokens int     `yaml:"min_candidate_tokens"`
	MaxCandidates      int     `yaml:"max_candidates"`
	Workers            int     `yaml:"workers"`
}

// OpenAIConfig configures an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// EmbedderConfig selects the embedding encoder: "hash" or "openai".
type EmbedderConfig struct {
	Type        string        `yaml:"type"`
	Dims        int           `yaml:"dims"`
	CacheSize   int           `yaml:"cache_size"`
	TimeoutSecs int           `yaml:"timeout_secs"`
	OpenAI      *OpenAIConfig `yaml:"openai,omitempty"`
}

// DiscoveryConfig selects the label discoverer: "none", "openai" or "chat".
type DiscoveryConfig struct {
	Type        string        `yaml:"type"`
	MaxLabels   int           `yaml:"max_labels"`
	TimeoutSecs int           `yaml:"timeout_secs"`
	OpenAI      *OpenAIConfig `yaml:"openai,omitempty"`
}

// HTTPSourceConfig configures the remote review source.
type HTTPSourceConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Lang        string  `yaml:"lang"`
	Country     string  `yaml:"country"`
	PageSize    int     `yaml:"page_size"`
	MaxPages    int     `yaml:"max_pages"`
	RatePerSec  float64 `yaml:"rate_per_sec"`
	Burst       int     `yaml:"burst"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// SourceConfig configures review acquisition.
type SourceConfig struct {
	ReviewsDir string           `yaml:"reviews_dir"`
	HTTP       HTTPSourceConfig `yaml:"http"`
}

// Config is the root configuration.
type Config struct {
	DBPath     string          `yaml:"db_path"`
	ReportsDir string          `yaml:"reports_dir"`
	StartDate  string          `yaml:"start_date"`
	WindowDays int             `yaml:"window_days"`
	Stopwords  []string        `yaml:"stopwords"`
	Registry   RegistryConfig  `yaml:"registry"`
	Extract    ExtractConfig   `yaml:"extract"`
	Embedder   EmbedderConfig  `yaml:"embedder"`
	Discovery  DiscoveryConfig `yaml:"discovery"`
	Source     SourceConfig    `yaml:"source"`
	Apps       map[string]App  `yaml:"apps"`
}

// Load reads a config file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", internalerr.ErrInvalidConfig, path, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg as YAML, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "revtrend.db")
	}
	if cfg.ReportsDir == "" {
		cfg.ReportsDir = "reports"
	}
	if cfg.StartDate == "" {
		cfg.StartDate = "2024-06-01"
	}
	if cfg.WindowDays == 0 {
		cfg.WindowDays = 30
	}
	if cfg.Registry.Threshold == 0 {
		cfg.Registry.Threshold = 0.75
	}
	if cfg.Registry.MaxTopics == 0 {
		cfg.Registry.MaxTopics = 50
	}
	if cfg.Extract.MinReviewLength == 0 {
		cfg.Extract.MinReviewLength = 10
	}
	if cfg.Extract.MinCandidateTokens == 0 {
		cfg.Extract.MinCandidateTokens = 2
	}
	if cfg.Extract.MaxCandidates == 0 {
		cfg.Extract.MaxCandidates = 8
	}
	if cfg.Extract.Workers == 0 {
		cfg.Extract.Workers = 8
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hash"
	}
	if cfg.Embedder.Dims == 0 {
		cfg.Embedder.Dims = 256
	}
	if cfg.Embedder.CacheSize == 0 {
		cfg.Embedder.CacheSize = 4096
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = 30
	}
	if cfg.Embedder.Type == "openai" {
		cfg.Embedder.OpenAI = openAIDefaults(cfg.Embedder.OpenAI, "text-embedding-3-small")
	}

	if cfg.Discovery.Type == "" {
		cfg.Discovery.Type = "none"
	}
	if cfg.Discovery.MaxLabels == 0 {
		cfg.Discovery.MaxLabels = 3
	}
	if cfg.Discovery.TimeoutSecs == 0 {
		cfg.Discovery.TimeoutSecs = 20
	}
	switch cfg.Discovery.Type {
	case "openai":
		cfg.Discovery.OpenAI = openAIDefaults(cfg.Discovery.OpenAI, "gpt-4o-mini")
	case "chat":
		cfg.Discovery.OpenAI = openAIDefaults(cfg.Discovery.OpenAI, "gpt-3.5-turbo")
		if !strings.HasSuffix(cfg.Discovery.OpenAI.BaseURL, "/chat/completions") {
			cfg.Discovery.OpenAI.BaseURL = strings.TrimSuffix(cfg.Discovery.OpenAI.BaseURL, "/") + "/chat/completions"
		}
	}

	if cfg.Source.ReviewsDir == "" {
		cfg.Source.ReviewsDir = filepath.Join("data", "reviews")
	}
	h := &cfg.Source.HTTP
	if h.Lang == "" {
		h.Lang = "en"
	}
	if h.Country == "" {
		h.Country = "in"
	}
	if h.PageSize == 0 {
		h.PageSize = 200
	}
	if h.MaxPages == 0 {
		h.MaxPages = 10
	}
	if h.RatePerSec == 0 {
		h.RatePerSec = 2
	}
	if h.Burst == 0 {
		h.Burst = 1
	}
	if h.TimeoutSecs == 0 {
		h.TimeoutSecs = 30
	}

	if cfg.Apps == nil {
		cfg.Apps = defaultApps()
	}
}

func openAIDefaults(in *OpenAIConfig, model string) *OpenAIConfig {
	out := &OpenAIConfig{}
	if in != nil {
		*out = *in
	}
	if out.BaseURL == "" {
		out.BaseURL = "https://api.openai.com/v1"
	}
	if out.APIKeyEnv == "" {
		out.APIKeyEnv = "OPENAI_API_KEY"
	}
	if out.Model == "" {
		out.Model = model
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", internalerr.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	if c.Registry.Threshold <= 0 || c.Registry.Threshold > 1 {
		return bad("registry.threshold %v must be in (0, 1]", c.Registry.Threshold)
	}
	if c.Registry.MaxTopics < 0 {
		return bad("registry.max_topics %d is negative", c.Registry.MaxTopics)
	}
	if c.WindowDays <= 0 {
		return bad("window_days %d must be positive", c.WindowDays)
	}
	if _, err := review.ParseDay(c.StartDate); err != nil {
		return bad("start_date %q: %v", c.StartDate, err)
	}
	if c.Extract.MinConfidence < 0 || c.Extract.MinConfidence > 1 {
		return bad("extract.min_confidence %v must be in [0, 1]", c.Extract.MinConfidence)
	}
	if c.Extract.MinReviewLength < 0 || c.Extract.MinCandidateTokens < 0 || c.Extract.Workers < 0 {
		return bad("extract settings must not be negative")
	}
	if c.Embedder.TimeoutSecs < 0 {
		return bad("embedder.timeout_secs %d is negative", c.Embedder.TimeoutSecs)
	}
	if c.Discovery.TimeoutSecs < 0 {
		return bad("discovery.timeout_secs %d is negative", c.Discovery.TimeoutSecs)
	}
	if c.Source.HTTP.TimeoutSecs < 0 {
		return bad("source.http.timeout_secs %d is negative", c.Source.HTTP.TimeoutSecs)
	}
	switch c.Embedder.Type {
	case "hash", "openai":
	default:
		return bad("embedder.type %q (want hash or openai)", c.Embedder.Type)
	}
	if c.Embedder.Dims <= 0 {
		return bad("embedder.dims %d must be positive", c.Embedder.Dims)
	}
	switch c.Discovery.Type {
	case "none", "openai", "chat":
	default:
		return bad("discovery.type %q (want none, openai or chat)", c.Discovery.Type)
	}
	for key, app := range c.Apps {
		if strings.TrimSpace(key) == "" {
			return bad("app with empty key")
		}
		labels := make(map[string]struct{}, len(app.Seeds))
		for _, s := range app.Seeds {
			l := strings.ToLower(strings.TrimSpace(s.Label))
			if l == "" {
				return bad("app %s has a seed without a label", key)
			}
			if _, dup := labels[l]; dup {
				return bad("app %s repeats seed %q", key, s.Label)
			}
			labels[l] = struct{}{}
		}
	}
	return nil
}

// Start parses StartDate.
func (c *Config) Start() time.Time {
	d, err := review.ParseDay(c.StartDate)
	if err != nil {
		return time.Time{}
	}
	return d
}

// ResolvedApp is an app named on the command line.
type ResolvedApp struct {
	Key     string // app id used for storage
	Name    string
	Package string
	Seeds   []Seed
	Known   bool
}

// ResolveApp finds an app by key, display name or package id, in that
// order of precedence, case-insensitively. Anything else is treated as the
// package id of an app with no seed topics.
func (c *Config) ResolveApp(input string) ResolvedApp {
	in := strings.ToLower(strings.TrimSpace(input))
	keys := make([]string, 0, len(c.Apps))
	for k := range c.Apps {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	match := func(pred func(key string, app App) bool) (ResolvedApp, bool) {
		for _, k := range keys {
			app := c.Apps[k]
			if pred(k, app) {
				return ResolvedApp{Key: k, Name: app.Name, Package: app.Package, Seeds: app.Seeds, Known: true}, true
			}
		}
		return ResolvedApp{}, false
	}
	if r, ok := match(func(k string, _ App) bool { return strings.ToLower(k) == in }); ok {
		return r
	}
	if r, ok := match(func(_ string, a App) bool { return strings.ToLower(a.Name) == in }); ok {
		return r
	}
	if r, ok := match(func(_ string, a App) bool { return strings.ToLower(a.Package) == in }); ok {
		return r
	}
	id := strings.TrimSpace(input)
	return ResolvedApp{Key: id, Name: id, Package: id}
}
