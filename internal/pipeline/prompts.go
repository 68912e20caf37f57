package pipeline

import (
	"fmt"
	"strings"

	"github.com/loaderland/concept-runner/internal/model"
)

const querySystemPrompt = `You are a research librarian helping plan literature searches for a health and science blog. Always respond with valid JSON only, no prose.`

func queryPrompt(idea string, source model.SourceMode) string {
	var guidance string
	switch {
	case source == model.SourcePubMed:
		guidance = "Queries will run against PubMed. Prefer precise biomedical terminology and MeSH-style phrasing."
	case source == model.SourceWeb:
		guidance = "Queries will run against a web search engine. Phrase them to surface authoritative health sites and recent reviews."
	default:
		guidance = "Queries will run against both PubMed and a web search engine. Mix precise biomedical phrasing with broader consumer-health phrasing."
	}

	return fmt.Sprintf(`Research idea: %s

%s

Produce 3 to 5 search queries and a URL slug for the eventual article.

Respond with JSON:
{"search_queries": ["...", "..."], "slug": "lowercase-hyphenated-slug"}`, idea, guidance)
}

const rankSystemPrompt = `You rank candidate sources by relevance to a research idea. Always respond with valid JSON only, no prose.`

type paperCandidate struct {
	PMID     string
	Title    string
	Abstract string
}

func rankPapersPrompt(idea, query string, candidates []paperCandidate, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research idea: %s\nSearch query: %s\n\nCandidate papers:\n", idea, query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. PMID %s: %s\n   %s\n", i+1, c.PMID, c.Title, c.Abstract)
	}
	fmt.Fprintf(&b, "\nSelect the %d most relevant papers. Respond with JSON:\n{\"pmids\": [\"...\"]}", limit)
	return b.String()
}

type webCandidate struct {
	URL     string
	Title   string
	Snippet string
}

func rankWebPrompt(idea string, candidates []webCandidate, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research idea: %s\n\nCandidate web sources:\n", idea)
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s: %s\n   %s\n", i+1, c.URL, c.Title, c.Snippet)
	}
	fmt.Fprintf(&b, "\nSelect the %d most relevant and authoritative sources. Respond with JSON:\n{\"urls\": [\"...\"]}", limit)
	return b.String()
}

const analysisSystemPrompt = `You are a careful research analyst extracting structured findings from source material for a health and science blog. Always respond with valid JSON only, no prose.`

func analysisPrompt(idea, title, text string) string {
	return fmt.Sprintf(`Research idea: %s

Source title: %s

Source text:
%s

Extract a structured analysis. Respond with JSON:
{
  "key_findings": ["..."],
  "methodology": "...",
  "limitations": ["..."],
  "relevance": "how this source bears on the research idea",
  "confidence": "high|medium|low"
}`, idea, title, text)
}
