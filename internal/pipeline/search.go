package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/internal/model"
	"github.com/loaderland/concept-runner/internal/store"
	"github.com/loaderland/concept-runner/pkg/tavily"
)

// SearchResult reports the outcome of the search stage.
type SearchResult struct {
	SourcesFound int          `json:"sources_found"`
	NewSources   int          `json:"new_sources"`
	Status       model.Status `json:"status"`
	Progress     int          `json:"progress"`
}

// Ranking is the outcome of a model-assisted relevance ranking. When the
// model call fails or returns unusable keys, Fallback is set and Keys holds
// the deterministic first-N choice, with Reason explaining why.
type Ranking struct {
	Keys     []string
	Fallback bool
	Reason   string
}

// Search runs every planned query against the enabled source paths, caches
// new records, and merges ranked candidates into the concept's found-source
// list. Individual query failures are logged and skipped.
func (p *Pipeline) Search(ctx context.Context, id string) (*SearchResult, error) {
	defer p.lock(id)()

	c, err := p.loadConcept(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(c, model.StatusSearching); err != nil {
		return nil, err
	}
	if err := p.setStage(ctx, id, model.StatusSearching, p.cfg.Pipeline.Checkpoints.SearchStart); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("concept_id", id))

	var incoming []model.FoundSource
	if c.Source.IncludesPubMed() {
		found, err := p.searchPubMed(ctx, c, log)
		if err != nil {
			return nil, p.failConcept(ctx, id, err)
		}
		incoming = append(incoming, found...)
	}
	if c.Source.IncludesWeb() {
		found, err := p.searchWeb(ctx, c, log)
		if err != nil {
			return nil, p.failConcept(ctx, id, err)
		}
		incoming = append(incoming, found...)
	}

	merged, added := model.MergeFoundSources(c.FoundSources, incoming)

	status := model.StatusSearching
	progress := p.cfg.Pipeline.Checkpoints.SearchDone
	if err := p.store.UpdateConcept(ctx, id, store.ConceptUpdate{
		Status:       &status,
		Progress:     &progress,
		FoundSources: &merged,
	}); err != nil {
		return nil, p.failConcept(ctx, id, err)
	}

	log.Info("search stage complete",
		zap.Int("sources_found", len(merged)),
		zap.Int("new_sources", added),
	)

	return &SearchResult{
		SourcesFound: len(merged),
		NewSources:   added,
		Status:       status,
		Progress:     progress,
	}, nil
}

// searchPubMed runs the bibliographic path for every query. Cached papers
// are not re-fetched; metadata for new PMIDs is upserted into the shared
// cache before ranking.
func (p *Pipeline) searchPubMed(ctx context.Context, c *model.Concept, log *zap.Logger) ([]model.FoundSource, error) {
	var out []model.FoundSource

	for _, query := range c.SearchQueries {
		pmids, err := p.pubmed.Search(ctx, query, p.cfg.Pipeline.MaxPMIDsPerQuery)
		if err != nil {
			log.Warn("pubmed search failed, skipping query",
				zap.String("query", query), zap.Error(err))
			continue
		}
		if len(pmids) == 0 {
			continue
		}

		cached, err := p.store.GetPapers(ctx, pmids)
		if err != nil {
			return nil, err
		}

		var uncached []string
		for _, pmid := range pmids {
			if _, ok := cached[pmid]; !ok {
				uncached = append(uncached, pmid)
			}
		}
		if len(uncached) > 0 {
			metas, err := p.pubmed.FetchMetadata(ctx, uncached)
			if err != nil {
				log.Warn("pubmed metadata fetch failed, using cached candidates only",
					zap.String("query", query), zap.Error(err))
			}
			for _, m := range metas {
				paper := model.Paper{
					PMID:     m.PMID,
					PMCID:    m.PMCID,
					Title:    m.Title,
					Abstract: m.Abstract,
					Authors:  m.Authors,
					Journal:  m.Journal,
					Year:     m.Year,
					DOI:      m.DOI,
				}
				if err := p.store.UpsertPaper(ctx, paper); err != nil {
					return nil, err
				}
				cached[m.PMID] = paper
			}
		}

		// Candidates preserve the engine's relevance order.
		var candidates []paperCandidate
		for _, pmid := range pmids {
			paper, ok := cached[pmid]
			if !ok {
				continue
			}
			candidates = append(candidates, paperCandidate{
				PMID:     paper.PMID,
				Title:    paper.Title,
				Abstract: model.Preview(paper.Abstract),
			})
		}
		if len(candidates) == 0 {
			continue
		}

		ranking := p.rankPapers(ctx, c.Idea, query, candidates)
		if ranking.Fallback {
			log.Warn("paper ranking fell back to result order",
				zap.String("query", query), zap.String("reason", ranking.Reason))
		}

		for _, pmid := range ranking.Keys {
			paper := cached[pmid]
			out = append(out, model.FoundSource{
				Kind:     model.KindPubMed,
				PMID:     paper.PMID,
				Title:    paper.Title,
				Abstract: model.Preview(paper.Abstract),
				Year:     paper.Year,
			})
		}
	}
	return out, nil
}

// rankPapers asks the model for the top papers, restricted to the candidate
// PMIDs. Any failure yields the deterministic first-N fallback.
func (p *Pipeline) rankPapers(ctx context.Context, idea, query string, candidates []paperCandidate) Ranking {
	limit := p.cfg.Pipeline.TopPapersPerQuery

	valid := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		valid[c.PMID] = struct{}{}
	}

	fallback := func(reason string) Ranking {
		keys := make([]string, 0, limit)
		for _, c := range candidates {
			if len(keys) == limit {
				break
			}
			keys = append(keys, c.PMID)
		}
		return Ranking{Keys: keys, Fallback: true, Reason: reason}
	}

	var resp struct {
		PMIDs []string `json:"pmids"`
	}
	if err := p.chatJSON(ctx, rankSystemPrompt, rankPapersPrompt(idea, query, candidates, limit), &resp); err != nil {
		return fallback(err.Error())
	}

	var keys []string
	seen := make(map[string]struct{})
	for _, pmid := range resp.PMIDs {
		if len(keys) == limit {
			break
		}
		if _, ok := valid[pmid]; !ok {
			continue
		}
		if _, dup := seen[pmid]; dup {
			continue
		}
		keys = append(keys, pmid)
		seen[pmid] = struct{}{}
	}
	if len(keys) == 0 {
		return fallback("model returned no usable pmids")
	}
	return Ranking{Keys: keys}
}

// searchWeb runs the web path for every query, then ranks the pooled results
// when the pool is larger than a single query's worth.
func (p *Pipeline) searchWeb(ctx context.Context, c *model.Concept, log *zap.Logger) ([]model.FoundSource, error) {
	seen := make(map[string]model.FoundSource)
	var order []string

	for _, query := range c.SearchQueries {
		resp, err := p.tavily.Search(ctx, tavily.SearchRequest{
			Query:             query,
			MaxResults:        p.cfg.Pipeline.WebResultsPerQuery,
			IncludeRawContent: true,
		})
		if err != nil {
			log.Warn("web search failed, skipping query",
				zap.String("query", query), zap.Error(err))
			continue
		}

		for _, r := range resp.Results {
			if r.URL == "" {
				continue
			}
			if _, dup := seen[r.URL]; dup {
				continue
			}
			if err := p.store.UpsertWebSource(ctx, model.WebSource{
				URL:      r.URL,
				Title:    r.Title,
				Snippet:  r.Content,
				Fulltext: r.RawContent,
				Domain:   r.Domain(),
			}); err != nil {
				return nil, err
			}
			seen[r.URL] = model.FoundSource{
				Kind:    model.KindWeb,
				URL:     r.URL,
				Title:   r.Title,
				Snippet: model.Preview(r.Content),
				Domain:  r.Domain(),
			}
			order = append(order, r.URL)
		}
	}

	pool := make([]model.FoundSource, 0, len(order))
	for _, u := range order {
		pool = append(pool, seen[u])
	}

	if len(pool) <= p.cfg.Pipeline.WebResultsPerQuery {
		return pool, nil
	}

	ranking := p.rankWeb(ctx, c.Idea, pool)
	if ranking.Fallback {
		log.Warn("web ranking fell back to result order", zap.String("reason", ranking.Reason))
	}

	out := make([]model.FoundSource, 0, len(ranking.Keys))
	for _, u := range ranking.Keys {
		out = append(out, seen[u])
	}
	return out, nil
}

// rankWeb asks the model for the top pooled web sources, restricted to
// known URLs, with the same deterministic fallback shape as rankPapers.
func (p *Pipeline) rankWeb(ctx context.Context, idea string, pool []model.FoundSource) Ranking {
	limit := p.cfg.Pipeline.TopWebSources

	valid := make(map[string]struct{}, len(pool))
	candidates := make([]webCandidate, 0, len(pool))
	for _, s := range pool {
		valid[s.URL] = struct{}{}
		candidates = append(candidates, webCandidate{URL: s.URL, Title: s.Title, Snippet: s.Snippet})
	}

	fallback := func(reason string) Ranking {
		keys := make([]string, 0, limit)
		for _, s := range pool {
			if len(keys) == limit {
				break
			}
			keys = append(keys, s.URL)
		}
		return Ranking{Keys: keys, Fallback: true, Reason: reason}
	}

	var resp struct {
		URLs []string `json:"urls"`
	}
	if err := p.chatJSON(ctx, rankSystemPrompt, rankWebPrompt(idea, candidates, limit), &resp); err != nil {
		return fallback(err.Error())
	}

	var keys []string
	seen := make(map[string]struct{})
	for _, u := range resp.URLs {
		if len(keys) == limit {
			break
		}
		if _, ok := valid[u]; !ok {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		keys = append(keys, u)
		seen[u] = struct{}{}
	}
	if len(keys) == 0 {
		return fallback("model returned no usable urls")
	}
	return Ranking{Keys: keys}
}
