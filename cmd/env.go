package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/loaderland/concept-runner/internal/pipeline"
	"github.com/loaderland/concept-runner/internal/store"
	"github.com/loaderland/concept-runner/pkg/llm"
	"github.com/loaderland/concept-runner/pkg/pubmed"
	"github.com/loaderland/concept-runner/pkg/tavily"
)

// runEnv bundles the store and pipeline for the lifetime of one command.
type runEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

func (e *runEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initPipeline opens the configured store, runs migrations, and wires the
// external clients into a pipeline.
func initPipeline(ctx context.Context) (*runEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	pipe := pipeline.New(
		cfg,
		st,
		llm.NewClient(cfg.LLM.Key),
		pubmed.NewClient(cfg.PubMed.Email,
			pubmed.WithBaseURL(cfg.PubMed.BaseURL),
			pubmed.WithFulltextBaseURL(cfg.PubMed.FulltextBaseURL),
			pubmed.WithRateLimit(cfg.PubMed.RatePerSec),
		),
		tavily.NewClient(cfg.Tavily.Key,
			tavily.WithBaseURL(cfg.Tavily.BaseURL),
		),
	)

	return &runEnv{Store: st, Pipeline: pipe}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
