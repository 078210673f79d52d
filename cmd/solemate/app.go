package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nstogner/solemate/pkg/config"
	"github.com/nstogner/solemate/pkg/controller"
	"github.com/nstogner/solemate/pkg/model"
	"github.com/nstogner/solemate/pkg/model/gemini"
	"github.com/nstogner/solemate/pkg/model/openai"
	"github.com/nstogner/solemate/pkg/retrieval"
	"github.com/nstogner/solemate/pkg/seed"
	"github.com/nstogner/solemate/pkg/store/sqlite"
	"github.com/nstogner/solemate/pkg/support"
	"github.com/nstogner/solemate/pkg/telemetry"
	"github.com/nstogner/solemate/pkg/tools"
)

// app wires the stores, retrieval, model and controller from config.
type app struct {
	store      *sqlite.Store
	cache      *retrieval.Cached
	controller *controller.Controller

	shutdownTelemetry func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a := &app{shutdownTelemetry: shutdown}

	if a.store, err = sqlite.New(cfg.Database.Path); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("open database: %w", err)
	}

	searcher, err := newSearcher(cfg.Retrieval, a.store)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.cache = searcher

	provider, err := newProvider(ctx, cfg.Model)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	reg := tools.NewRegistry()
	if err := support.Register(reg, &support.Toolbox{Orders: a.store, Policies: searcher}); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.controller, err = controller.New(controller.Options{
		Provider:        provider,
		Registry:        reg,
		Store:           a.store,
		Model:           cfg.Model.Name,
		Instructions:    cfg.Agent.Instructions,
		Temperature:     cfg.Model.Temperature,
		MaxTokens:       cfg.Model.MaxTokens,
		MaxEmptyRetries: cfg.Agent.MaxEmptyRetries,
		MaxSteps:        cfg.Agent.MaxSteps,
		TurnTimeout:     cfg.Agent.TurnTimeout,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	slog.Info("Agent ready",
		"provider", provider.Name(),
		"model", cfg.Model.Name,
		"retrieval", cfg.Retrieval.Mode,
		"database", cfg.Database.Path,
	)
	return a, nil
}

// newSearcher builds the policy searcher for the configured mode, wrapped in
// an LRU cache.
func newSearcher(cfg config.RetrievalConfig, st *sqlite.Store) (*retrieval.Cached, error) {
	opts := retrieval.Options{
		TopK:           cfg.TopK,
		RerankTopN:     cfg.RerankTopN,
		ScoreThreshold: cfg.ScoreThreshold,
	}

	var next retrieval.Searcher
	switch cfg.Mode {
	case config.RetrievalRemote:
		r, err := retrieval.NewRemote(cfg.RemoteURL, opts)
		if err != nil {
			return nil, fmt.Errorf("remote retrieval: %w", err)
		}
		next = r
	default:
		next = retrieval.NewLocal(st, opts)
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = 1
	}
	return retrieval.NewCached(next, size)
}

func newProvider(ctx context.Context, cfg config.ModelConfig) (model.Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("no model API key configured (set model.api_key or the provider's API key variable)")
	}
	var (
		p   model.Provider
		err error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		p, err = gemini.New(ctx, cfg.APIKey)
	case config.ProviderGroq:
		base := cfg.BaseURL
		if base == "" {
			base = openai.GroqBaseURL
		}
		p, err = openai.New(openai.Options{APIKey: cfg.APIKey, BaseURL: base})
	case config.ProviderOpenAI:
		p, err = openai.New(openai.Options{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", cfg.Provider, err)
	}
	return p, nil
}

// seed loads a fixture and drops cached policy searches.
func (a *app) seed(ctx context.Context, path string) (seed.Result, error) {
	f, err := seed.Load(path)
	if err != nil {
		return seed.Result{}, err
	}
	res, err := seed.Apply(ctx, a.store, a.store, f)
	if err != nil {
		return seed.Result{}, err
	}
	a.cache.Purge()
	return res, nil
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.shutdownTelemetry != nil {
		errs = append(errs, a.shutdownTelemetry(ctx))
	}
	return errors.Join(errs...)
}
