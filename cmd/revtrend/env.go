package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cognicore/revtrend/internal/logger"
	"github.com/cognicore/revtrend/pkg/revtrend"
	"github.com/cognicore/revtrend/pkg/revtrend/config"
	"github.com/cognicore/revtrend/pkg/revtrend/ingest"
	"github.com/cognicore/revtrend/pkg/revtrend/store/sqlite"
)

// env is what every command needs: configuration, components and the engine.
type env struct {
	cfg    *config.Config
	loader *config.Loader
	comp   *config.Components
	engine *revtrend.Engine
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.dbPath != "" {
		cfg.DBPath = g.dbPath
	}
	return cfg, nil
}

func openEnv(ctx context.Context, cfg *config.Config) (*env, error) {
	loader := &config.Loader{Config: cfg, Logger: logger.Log}
	comp, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	st, err := sqlite.OpenSQLite(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	eng, err := revtrend.New(revtrend.Options{
		Store:      st,
		Tokenizer:  comp.Tokenizer,
		Encoder:    comp.Encoder,
		Discoverer: comp.Discoverer,
		Registry:   comp.Registry,
		Extract:    comp.Extract,
		Logger:     logger.Log,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	return &env{cfg: cfg, loader: loader, comp: comp, engine: eng}, nil
}

func (e *env) Close() error {
	return e.engine.Close()
}

// engineApp converts a resolved config app into the engine's form.
func engineApp(app config.ResolvedApp) revtrend.App {
	seeds := make([]ingest.SeedTopic, len(app.Seeds))
	for i, s := range app.Seeds {
		seeds[i] = ingest.SeedTopic{Label: s.Label, Keywords: s.Keywords}
	}
	return revtrend.App{ID: app.Key, Seeds: seeds}
}

// uniqueApps resolves app arguments, dropping repeats. Comma separated
// values are accepted.
func uniqueApps(cfg *config.Config, inputs []string) []config.ResolvedApp {
	var out []config.ResolvedApp
	seen := make(map[string]bool)
	for _, in := range inputs {
		for _, part := range strings.Split(in, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			app := cfg.ResolveApp(part)
			if seen[app.Key] {
				continue
			}
			seen[app.Key] = true
			out = append(out, app)
		}
	}
	return out
}
