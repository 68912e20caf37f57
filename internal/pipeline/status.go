package pipeline

import (
	"context"
	"time"

	"github.com/loaderland/concept-runner/internal/model"
	"github.com/loaderland/concept-runner/internal/store"
)

// StatusResult is a full progress snapshot for one concept.
type StatusResult struct {
	ConceptID     string           `json:"concept_id"`
	Idea          string           `json:"idea"`
	Slug          string           `json:"slug"`
	Source        model.SourceMode `json:"source"`
	Status        model.Status     `json:"status"`
	Progress      int              `json:"progress"`
	GapIteration  int              `json:"gap_iteration"`
	QueryCount    int              `json:"query_count"`
	SourcesFound  int              `json:"sources_found"`
	AnalysisCount int              `json:"analysis_count"`
	HasContent    bool             `json:"has_content"`
	ContentLength int              `json:"content_length"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// Status returns the current snapshot for a concept. Read-only.
func (p *Pipeline) Status(ctx context.Context, id string) (*StatusResult, error) {
	c, err := p.loadConcept(ctx, id)
	if err != nil {
		return nil, err
	}

	return &StatusResult{
		ConceptID:     c.ID,
		Idea:          c.Idea,
		Slug:          c.Slug,
		Source:        c.Source,
		Status:        c.Status,
		Progress:      c.Progress,
		GapIteration:  c.GapIteration,
		QueryCount:    len(c.SearchQueries),
		SourcesFound:  len(c.FoundSources),
		AnalysisCount: len(c.Analyses),
		HasContent:    c.Content != "",
		ContentLength: len(c.Content),
		ErrorMessage:  c.ErrorMessage,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
		CompletedAt:   c.CompletedAt,
	}, nil
}

// ConceptSummary is one row of a concept listing.
type ConceptSummary struct {
	ConceptID string       `json:"concept_id"`
	Idea      string       `json:"idea"`
	Slug      string       `json:"slug"`
	Status    model.Status `json:"status"`
	Progress  int          `json:"progress"`
	CreatedAt time.Time    `json:"created_at"`
}

// List returns newest-first concept summaries, optionally filtered by
// status. Ideas are truncated for display.
func (p *Pipeline) List(ctx context.Context, status model.Status, limit int) ([]ConceptSummary, error) {
	concepts, err := p.store.ListConcepts(ctx, store.ConceptFilter{Status: status, Limit: limit})
	if err != nil {
		return nil, err
	}

	summaries := make([]ConceptSummary, 0, len(concepts))
	for _, c := range concepts {
		summaries = append(summaries, ConceptSummary{
			ConceptID: c.ID,
			Idea:      truncateString(c.Idea, 100),
			Slug:      c.Slug,
			Status:    c.Status,
			Progress:  c.Progress,
			CreatedAt: c.CreatedAt,
		})
	}
	return summaries, nil
}
