package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/internal/model"
	"github.com/loaderland/concept-runner/internal/store"
)

// SaveResult reports a stored article draft.
type SaveResult struct {
	ConceptID string       `json:"concept_id"`
	Status    model.Status `json:"status"`
	Progress  int          `json:"progress"`
}

// SaveArticle stores an agent-written draft onto the concept. Title and
// content are required.
func (p *Pipeline) SaveArticle(ctx context.Context, id string, draft model.ArticleDraft) (*SaveResult, error) {
	defer p.lock(id)()

	c, err := p.loadConcept(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(draft.Title) == "" {
		return nil, eris.Wrap(ErrValidation, "article title is required")
	}
	if strings.TrimSpace(draft.Content) == "" {
		return nil, eris.Wrap(ErrValidation, "article content is required")
	}
	if err := checkTransition(c, model.StatusWriting); err != nil {
		return nil, err
	}

	status := model.StatusWriting
	progress := p.cfg.Pipeline.Checkpoints.SaveArticle
	upd := store.ConceptUpdate{
		Status:   &status,
		Progress: &progress,
		Title:    &draft.Title,
		Excerpt:  &draft.Excerpt,
		Content:  &draft.Content,
	}
	if draft.CoverImage != "" {
		upd.CoverImage = &draft.CoverImage
	}
	if len(draft.Sources) > 0 {
		upd.Sources = &draft.Sources
	}
	if err := p.store.UpdateConcept(ctx, id, upd); err != nil {
		return nil, p.failConcept(ctx, id, err)
	}

	zap.L().Info("article draft saved",
		zap.String("concept_id", id),
		zap.Int("content_length", len(draft.Content)),
		zap.Int("sources", len(draft.Sources)),
	)

	return &SaveResult{ConceptID: id, Status: status, Progress: progress}, nil
}

// PublishResult reports a published concept.
type PublishResult struct {
	ConceptID   string       `json:"concept_id"`
	Slug        string       `json:"slug"`
	Path        string       `json:"path"`
	Status      model.Status `json:"status"`
	Progress    int          `json:"progress"`
	CompletedAt time.Time    `json:"completed_at"`
}

// Publish marks a concept's article live. A concept with no saved content
// cannot be published; the failed gate performs zero mutation.
func (p *Pipeline) Publish(ctx context.Context, id string) (*PublishResult, error) {
	defer p.lock(id)()

	c, err := p.loadConcept(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.Content) == "" {
		return nil, eris.Wrap(ErrValidation, "concept has no article content to publish")
	}
	if err := checkTransition(c, model.StatusPublished); err != nil {
		return nil, err
	}

	status := model.StatusPublished
	progress := p.cfg.Pipeline.Checkpoints.Publish
	completed := time.Now().UTC()
	if err := p.store.UpdateConcept(ctx, id, store.ConceptUpdate{
		Status:      &status,
		Progress:    &progress,
		CompletedAt: &completed,
	}); err != nil {
		return nil, p.failConcept(ctx, id, err)
	}

	zap.L().Info("concept published",
		zap.String("concept_id", id),
		zap.String("slug", c.Slug),
	)

	return &PublishResult{
		ConceptID:   id,
		Slug:        c.Slug,
		Path:        "/research/" + c.Slug,
		Status:      status,
		Progress:    progress,
		CompletedAt: completed,
	}, nil
}
