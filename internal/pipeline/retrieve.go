package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/internal/model"
)

// RetrieveResult reports the outcome of the fulltext stage.
type RetrieveResult struct {
	SourcesWithText int          `json:"sources_with_text"`
	TotalSources    int          `json:"total_sources"`
	Status          model.Status `json:"status"`
	Progress        int          `json:"progress"`
}

// RetrieveFulltext fills the source caches with full text for every found
// source that lacks it. Items that cannot be satisfied are left bare; the
// stage itself never fails because of them.
func (p *Pipeline) RetrieveFulltext(ctx context.Context, id string) (*RetrieveResult, error) {
	defer p.lock(id)()

	c, err := p.loadConcept(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(c, model.StatusRetrieving); err != nil {
		return nil, err
	}
	if err := p.setStage(ctx, id, model.StatusRetrieving, p.cfg.Pipeline.Checkpoints.RetrieveStart); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("concept_id", id))

	withText := 0
	pubmedWithText, err := p.retrievePapers(ctx, c, log)
	if err != nil {
		return nil, p.failConcept(ctx, id, err)
	}
	withText += pubmedWithText

	webWithText, err := p.retrieveWebPages(ctx, c, log)
	if err != nil {
		return nil, p.failConcept(ctx, id, err)
	}
	withText += webWithText

	status := model.StatusRetrieving
	progress := p.cfg.Pipeline.Checkpoints.RetrieveDone
	if err := p.setStage(ctx, id, status, progress); err != nil {
		return nil, p.failConcept(ctx, id, err)
	}

	log.Info("retrieve stage complete",
		zap.Int("sources_with_text", withText),
		zap.Int("total_sources", len(c.FoundSources)),
	)

	return &RetrieveResult{
		SourcesWithText: withText,
		TotalSources:    len(c.FoundSources),
		Status:          status,
		Progress:        progress,
	}, nil
}

// retrievePapers satisfies pubmed sources. Cached full text wins; papers
// without a PMC ID get a synthesized abstract stand-in; the rest go through
// a singleflight-deduped PMC fetch with abstract fallback.
func (p *Pipeline) retrievePapers(ctx context.Context, c *model.Concept, log *zap.Logger) (int, error) {
	withText := 0
	for _, fs := range c.FoundSources {
		if fs.Kind != model.KindPubMed {
			continue
		}

		paper, err := p.store.GetPaper(ctx, fs.PMID)
		if err != nil {
			return withText, err
		}
		if paper == nil {
			log.Warn("found source missing from paper cache", zap.String("pmid", fs.PMID))
			continue
		}
		if paper.Fulltext != "" {
			withText++
			continue
		}

		if paper.PMCID == "" {
			if paper.Abstract == "" {
				continue
			}
			if err := p.store.SetPaperFulltext(ctx, paper.PMID, model.AbstractOnly(paper.Abstract)); err != nil {
				return withText, err
			}
			withText++
			continue
		}

		text, fetchErr := p.fetchPMCFulltext(ctx, paper.PMCID)
		if fetchErr != nil || text == "" {
			if fetchErr != nil {
				log.Warn("pmc fulltext fetch failed",
					zap.String("pmid", paper.PMID), zap.String("pmc_id", paper.PMCID), zap.Error(fetchErr))
			}
			if paper.Abstract == "" {
				continue
			}
			text = model.AbstractOnly(paper.Abstract)
		} else {
			text = truncateText(text, p.cfg.Pipeline.FulltextMaxChars)
		}
		if err := p.store.SetPaperFulltext(ctx, paper.PMID, text); err != nil {
			return withText, err
		}
		withText++
	}
	return withText, nil
}

// fetchPMCFulltext deduplicates concurrent fetches for the same PMC ID.
func (p *Pipeline) fetchPMCFulltext(ctx context.Context, pmcID string) (string, error) {
	v, err, _ := p.fulltext.Do(pmcID, func() (any, error) {
		return p.pubmed.FetchFulltext(ctx, pmcID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// retrieveWebPages batch-extracts pages for web sources whose cache record
// has no full text yet. Extraction failures leave the record bare.
func (p *Pipeline) retrieveWebPages(ctx context.Context, c *model.Concept, log *zap.Logger) (int, error) {
	var urls []string
	for _, fs := range c.FoundSources {
		if fs.Kind == model.KindWeb {
			urls = append(urls, fs.URL)
		}
	}
	if len(urls) == 0 {
		return 0, nil
	}

	cached, err := p.store.GetWebSources(ctx, urls)
	if err != nil {
		return 0, err
	}

	withText := 0
	var missing []string
	for _, u := range urls {
		ws, ok := cached[u]
		if ok && ws.Fulltext != "" {
			withText++
			continue
		}
		missing = append(missing, u)
	}

	batchSize := p.cfg.Pipeline.ExtractBatchSize
	for start := 0; start < len(missing); start += batchSize {
		end := start + batchSize
		if end > len(missing) {
			end = len(missing)
		}

		resp, err := p.tavily.Extract(ctx, missing[start:end])
		if err != nil {
			log.Warn("web extract batch failed", zap.Int("batch_start", start), zap.Error(err))
			continue
		}
		for _, r := range resp.Results {
			if r.RawContent == "" {
				continue
			}
			text := truncateText(r.RawContent, p.cfg.Pipeline.FulltextMaxChars)
			if err := p.store.SetWebFulltext(ctx, r.URL, text); err != nil {
				return withText, err
			}
			withText++
		}
		for _, f := range resp.FailedResults {
			log.Warn("web extract failed for url", zap.String("url", f.URL), zap.String("reason", f.Error))
		}
	}
	return withText, nil
}
