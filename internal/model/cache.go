package model

import (
	"strings"
	"time"
)

// AbstractOnlyMarker prefixes synthesized full text when only an abstract
// was available for a paper.
const AbstractOnlyMarker = "[Abstract only]"

// AbstractOnly builds a full-text stand-in from an abstract.
func AbstractOnly(abstract string) string {
	return AbstractOnlyMarker + "\n" + abstract
}

// IsRealFulltext reports whether text is actual retrieved full text rather
// than empty or an abstract stand-in.
func IsRealFulltext(text string) bool {
	return text != "" && !strings.HasPrefix(text, AbstractOnlyMarker)
}

// Paper is a cached bibliographic record, shared across concepts and keyed
// by PMID. Re-fetching metadata never discards previously cached full text.
type Paper struct {
	PMID      string    `json:"pmid"`
	PMCID     string    `json:"pmc_id,omitempty"`
	Title     string    `json:"title"`
	Abstract  string    `json:"abstract,omitempty"`
	Authors   []string  `json:"authors,omitempty"`
	Journal   string    `json:"journal,omitempty"`
	Year      string    `json:"year,omitempty"`
	DOI       string    `json:"doi,omitempty"`
	Fulltext  string    `json:"fulltext,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WebSource is a cached web page, shared across concepts and keyed by URL.
type WebSource struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet,omitempty"`
	Fulltext  string    `json:"fulltext,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
