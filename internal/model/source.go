package model

// SourceKind distinguishes bibliographic entries from web pages in a
// concept's found-source list.
type SourceKind string

const (
	KindPubMed SourceKind = "pubmed"
	KindWeb    SourceKind = "web"
)

// previewLen caps abstract/snippet previews stored on found sources.
const previewLen = 300

// FoundSource is one candidate evidence item. Exactly one of PMID or URL is
// set; that identifier is the dedup key across search calls.
type FoundSource struct {
	Kind     SourceKind `json:"type"`
	PMID     string     `json:"pmid,omitempty"`
	URL      string     `json:"url,omitempty"`
	Title    string     `json:"title"`
	Abstract string     `json:"abstract,omitempty"`
	Snippet  string     `json:"snippet,omitempty"`
	Domain   string     `json:"domain,omitempty"`
	Year     string     `json:"year,omitempty"`
}

// Key returns the stable identifier used for dedup and merge.
func (s FoundSource) Key() string {
	if s.PMID != "" {
		return s.PMID
	}
	return s.URL
}

// Preview truncates s to the stored preview length.
func Preview(s string) string {
	if len(s) > previewLen {
		return s[:previewLen]
	}
	return s
}

// MergeFoundSources combines incoming sources into existing by key.
// Existing entries are never overwritten; new keys are appended in
// first-seen order. Returns the merged list and the number appended.
func MergeFoundSources(existing, incoming []FoundSource) ([]FoundSource, int) {
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s.Key()] = struct{}{}
	}
	added := 0
	for _, s := range incoming {
		key := s.Key()
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		existing = append(existing, s)
		seen[key] = struct{}{}
		added++
	}
	return existing, added
}

// SourceAnalysis is the structured extraction for one found source. The key
// fields mirror FoundSource: exactly one of PMID or URL is set.
type SourceAnalysis struct {
	PMID        string   `json:"pmid,omitempty"`
	URL         string   `json:"url,omitempty"`
	Title       string   `json:"title"`
	KeyFindings []string `json:"key_findings"`
	Methodology string   `json:"methodology"`
	Limitations []string `json:"limitations"`
	Relevance   string   `json:"relevance"`
	Confidence  string   `json:"confidence"`
}

// Key returns the source identifier this analysis is attributed to.
func (a SourceAnalysis) Key() string {
	if a.PMID != "" {
		return a.PMID
	}
	return a.URL
}

// AnalyzedKeys returns the set of source keys already covered by analyses.
func AnalyzedKeys(analyses []SourceAnalysis) map[string]struct{} {
	keys := make(map[string]struct{}, len(analyses))
	for _, a := range analyses {
		if k := a.Key(); k != "" {
			keys[k] = struct{}{}
		}
	}
	return keys
}
