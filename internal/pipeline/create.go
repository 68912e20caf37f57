package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/internal/model"
)

// CreateResult reports a newly planned concept.
type CreateResult struct {
	ConceptID     string       `json:"concept_id"`
	Slug          string       `json:"slug"`
	SearchQueries []string     `json:"search_queries"`
	Status        model.Status `json:"status"`
	Progress      int          `json:"progress"`
}

// Create plans a new concept: the model proposes search queries and a slug,
// then the concept row is persisted. A query-generation failure creates no
// row.
func (p *Pipeline) Create(ctx context.Context, idea string, source model.SourceMode) (*CreateResult, error) {
	idea = strings.TrimSpace(idea)
	if idea == "" {
		return nil, eris.Wrap(ErrValidation, "idea is required")
	}
	if source == "" {
		source = model.SourcePubMed
	}
	if !source.Valid() {
		return nil, eris.Wrapf(ErrValidation, "unknown source mode %q", source)
	}

	var plan struct {
		SearchQueries []string `json:"search_queries"`
		Slug          string   `json:"slug"`
	}
	err := p.chatJSON(ctx, querySystemPrompt, queryPrompt(idea, source), &plan)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: generate search queries")
	}
	if len(plan.SearchQueries) == 0 {
		return nil, eris.New("pipeline: model returned no search queries")
	}

	slug := slugify(plan.Slug)
	if slug == "" {
		slug = slugify(idea)
	}
	exists, err := p.store.SlugExists(ctx, slug)
	if err != nil {
		return nil, err
	}
	if exists {
		slug = fmt.Sprintf("%s-%d", slug, time.Now().Unix())
	}

	c := &model.Concept{
		ID:            uuid.NewString(),
		Idea:          idea,
		Slug:          slug,
		Source:        source,
		Status:        model.StatusCreated,
		Progress:      p.cfg.Pipeline.Checkpoints.Create,
		SearchQueries: plan.SearchQueries,
	}
	if err := p.store.CreateConcept(ctx, c); err != nil {
		return nil, err
	}

	zap.L().Info("concept created",
		zap.String("concept_id", c.ID),
		zap.String("slug", c.Slug),
		zap.String("source", string(c.Source)),
		zap.Int("queries", len(c.SearchQueries)),
	)

	return &CreateResult{
		ConceptID:     c.ID,
		Slug:          c.Slug,
		SearchQueries: c.SearchQueries,
		Status:        c.Status,
		Progress:      c.Progress,
	}, nil
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// slugify normalizes a candidate slug to lowercase hyphenated form.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStrip.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 80 {
		s = strings.Trim(s[:80], "-")
	}
	return s
}
