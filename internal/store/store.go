package store

import (
	"context"
	"time"

	"github.com/loaderland/concept-runner/internal/model"
)

// ConceptFilter specifies criteria for listing concepts.
type ConceptFilter struct {
	Status model.Status `json:"status,omitempty"`
	Limit  int          `json:"limit,omitempty"`
}

// ConceptUpdate is a partial update applied to a concept. Only non-nil
// fields are written; updated_at is always bumped. Applied as a single
// UPDATE statement so there is no read-modify-write window.
type ConceptUpdate struct {
	Status        *model.Status
	Progress      *int
	GapIteration  *int
	SearchQueries *[]string
	FoundSources  *[]model.FoundSource
	Analyses      *[]model.SourceAnalysis
	KnowledgeGaps *[]string
	Sources       *[]model.SourceRef
	Title         *string
	Excerpt       *string
	Content       *string
	CoverImage    *string
	ErrorMessage  *string
	CompletedAt   *time.Time
}

// Store defines persistence for concepts and the two shared source caches.
type Store interface {
	// Concepts
	CreateConcept(ctx context.Context, c *model.Concept) error
	GetConcept(ctx context.Context, id string) (*model.Concept, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	UpdateConcept(ctx context.Context, id string, upd ConceptUpdate) error
	ListConcepts(ctx context.Context, filter ConceptFilter) ([]model.Concept, error)

	// Paper cache (keyed by PMID, shared across concepts)
	GetPaper(ctx context.Context, pmid string) (*model.Paper, error)
	GetPapers(ctx context.Context, pmids []string) (map[string]model.Paper, error)
	UpsertPaper(ctx context.Context, p model.Paper) error
	SetPaperFulltext(ctx context.Context, pmid, fulltext string) error

	// Web cache (keyed by URL, shared across concepts)
	GetWebSource(ctx context.Context, url string) (*model.WebSource, error)
	GetWebSources(ctx context.Context, urls []string) (map[string]model.WebSource, error)
	UpsertWebSource(ctx context.Context, ws model.WebSource) error
	SetWebFulltext(ctx context.Context, url, fulltext string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
