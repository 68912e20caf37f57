package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/loaderland/concept-runner/internal/config"
	"github.com/loaderland/concept-runner/internal/model"
	"github.com/loaderland/concept-runner/internal/store"
	"github.com/loaderland/concept-runner/pkg/llm"
	"github.com/loaderland/concept-runner/pkg/pubmed"
	"github.com/loaderland/concept-runner/pkg/tavily"
)

// Sentinel errors. ErrValidation failures never mutate the concept.
var (
	ErrNotFound   = eris.New("concept not found")
	ErrValidation = eris.New("validation failed")
)

// Pipeline orchestrates the research stages for concepts. All dependencies
// are injected; there is no package-level state.
type Pipeline struct {
	cfg    *config.Config
	store  store.Store
	llm    llm.Client
	pubmed pubmed.Client
	tavily tavily.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// Deduplicates concurrent fulltext fetches for the same PMC ID across
	// concepts.
	fulltext singleflight.Group
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, llmClient llm.Client, pubmedClient pubmed.Client, tavilyClient tavily.Client) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		store:  st,
		llm:    llmClient,
		pubmed: pubmedClient,
		tavily: tavilyClient,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock serializes stage operations against a single concept. Different
// concepts proceed independently.
func (p *Pipeline) lock(id string) func() {
	p.mu.Lock()
	m, ok := p.locks[id]
	if !ok {
		m = &sync.Mutex{}
		p.locks[id] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// loadConcept fetches a concept or returns ErrNotFound.
func (p *Pipeline) loadConcept(ctx context.Context, id string) (*model.Concept, error) {
	c, err := p.store.GetConcept(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, eris.Wrapf(ErrNotFound, "concept %s", id)
	}
	return c, nil
}

// checkTransition rejects stage calls that would move a concept along an
// edge the status machine does not allow.
func checkTransition(c *model.Concept, next model.Status) error {
	if !c.Status.CanTransition(next) {
		return eris.Wrapf(ErrValidation, "concept %s is %s, cannot move to %s", c.ID, c.Status, next)
	}
	return nil
}

// setStage writes a status/progress checkpoint.
func (p *Pipeline) setStage(ctx context.Context, id string, status model.Status, progress int) error {
	return p.store.UpdateConcept(ctx, id, store.ConceptUpdate{
		Status:   &status,
		Progress: &progress,
	})
}

// failConcept marks a concept failed, preserving progress at the last
// checkpoint, and returns the original error wrapped.
func (p *Pipeline) failConcept(ctx context.Context, id string, stageErr error) error {
	msg := stageErr.Error()
	status := model.StatusFailed
	if err := p.store.UpdateConcept(ctx, id, store.ConceptUpdate{
		Status:       &status,
		ErrorMessage: &msg,
	}); err != nil {
		zap.L().Error("failed to mark concept failed",
			zap.String("concept_id", id), zap.Error(err))
	}
	zap.L().Error("stage failed",
		zap.String("concept_id", id), zap.Error(stageErr))
	return stageErr
}

// MarkFailed records an out-of-band failure against a concept. Surfaces use
// it when a handler hits an error the stage itself did not catch.
func (p *Pipeline) MarkFailed(ctx context.Context, id string, cause error) {
	_ = p.failConcept(ctx, id, cause)
}

// chatJSON sends a prompt with the configured model settings and decodes the
// JSON reply.
func (p *Pipeline) chatJSON(ctx context.Context, system, prompt string, out any) error {
	return llm.ChatJSON(ctx, p.llm, p.cfg.LLM.Model, p.cfg.LLM.MaxTokens, system, prompt, out)
}

// truncateText caps s at max characters, appending a truncation marker when
// anything was cut.
func truncateText(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "\n\n[Truncated]"
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
