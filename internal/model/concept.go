package model

import (
	"time"
)

// SourceMode selects which retrieval paths a concept runs. Fixed at creation.
type SourceMode string

// Valid source modes.
const (
	SourcePubMed SourceMode = "pubmed"
	SourceWeb    SourceMode = "web"
	SourceBoth   SourceMode = "both"
)

// Valid reports whether m is a known source mode.
func (m SourceMode) Valid() bool {
	switch m {
	case SourcePubMed, SourceWeb, SourceBoth:
		return true
	}
	return false
}

// IncludesPubMed reports whether the bibliographic path is enabled.
func (m SourceMode) IncludesPubMed() bool { return m == SourcePubMed || m == SourceBoth }

// IncludesWeb reports whether the web path is enabled.
func (m SourceMode) IncludesWeb() bool { return m == SourceWeb || m == SourceBoth }

// Status represents the current pipeline stage of a concept.
type Status string

// Pipeline statuses in forward order. Reflecting and gap_filling belong to
// the externally-driven synthesis loop: no stage operation in this package
// produces them, but they are legal states for callers that do that work.
const (
	StatusCreated    Status = "created"
	StatusSearching  Status = "searching"
	StatusRetrieving Status = "retrieving"
	StatusAnalyzing  Status = "analyzing"
	StatusReflecting Status = "reflecting"
	StatusGapFilling Status = "gap_filling"
	StatusWriting    Status = "writing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
)

// transitions is the set of allowed forward moves. A stage operation that
// would move a concept along an edge not listed here is rejected instead of
// silently overwriting the status string.
var transitions = map[Status][]Status{
	StatusCreated:    {StatusSearching},
	StatusSearching:  {StatusSearching, StatusRetrieving},
	StatusRetrieving: {StatusRetrieving, StatusAnalyzing},
	StatusAnalyzing:  {StatusAnalyzing, StatusSearching, StatusReflecting, StatusWriting},
	StatusReflecting: {StatusGapFilling, StatusWriting},
	StatusGapFilling: {StatusSearching, StatusWriting},
	StatusWriting:    {StatusWriting, StatusPublished},
}

// CanTransition reports whether a concept in status s may move to next.
// Failed is reachable from every non-terminal status.
func (s Status) CanTransition(next Status) bool {
	if next == StatusFailed {
		return !s.Terminal()
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusSearching, StatusRetrieving, StatusAnalyzing,
		StatusReflecting, StatusGapFilling, StatusWriting, StatusPublished, StatusFailed:
		return true
	}
	return false
}

// SourceRef is one entry of the final article bibliography, written back by
// the agent alongside the article.
type SourceRef struct {
	Ref   int    `json:"ref"`
	Title string `json:"title"`
	PMID  string `json:"pmid,omitempty"`
	URL   string `json:"url,omitempty"`
}

// ArticleDraft is the agent-written output saved onto a concept.
type ArticleDraft struct {
	Title      string      `json:"title"`
	Excerpt    string      `json:"excerpt,omitempty"`
	Content    string      `json:"content"`
	CoverImage string      `json:"cover_image_url,omitempty"`
	Sources    []SourceRef `json:"sources,omitempty"`
}

// Concept is one research-idea-to-article pipeline instance.
type Concept struct {
	ID           string     `json:"id"`
	Idea         string     `json:"idea"`
	Slug         string     `json:"slug"`
	Source       SourceMode `json:"source"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	GapIteration int        `json:"gap_iteration"`

	SearchQueries []string         `json:"search_queries,omitempty"`
	FoundSources  []FoundSource    `json:"found_sources,omitempty"`
	Analyses      []SourceAnalysis `json:"analyses,omitempty"`
	KnowledgeGaps []string         `json:"knowledge_gaps,omitempty"`
	Sources       []SourceRef      `json:"sources,omitempty"`

	Title      string `json:"title,omitempty"`
	Excerpt    string `json:"excerpt,omitempty"`
	Content    string `json:"content,omitempty"`
	CoverImage string `json:"cover_image_url,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
