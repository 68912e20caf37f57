package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/internal/model"
	"github.com/loaderland/concept-runner/internal/store"
)

// AnalyzeResult reports the outcome of the analysis stage.
type AnalyzeResult struct {
	SourcesAnalyzed int          `json:"sources_analyzed"`
	NewAnalyses     int          `json:"new_analyses"`
	Status          model.Status `json:"status"`
	Progress        int          `json:"progress"`
}

// Analyze runs structured extraction over every found source that has no
// analysis yet. Per-item model failures are logged and skipped; the stage
// always completes with whatever subset survived.
func (p *Pipeline) Analyze(ctx context.Context, id string) (*AnalyzeResult, error) {
	defer p.lock(id)()

	c, err := p.loadConcept(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(c, model.StatusAnalyzing); err != nil {
		return nil, err
	}
	if err := p.setStage(ctx, id, model.StatusAnalyzing, p.cfg.Pipeline.Checkpoints.AnalyzeStart); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("concept_id", id))

	papers, webSources, err := p.loadSourceCaches(ctx, c)
	if err != nil {
		return nil, p.failConcept(ctx, id, err)
	}

	analyzed := model.AnalyzedKeys(c.Analyses)
	analyses := c.Analyses
	added := 0

	for _, fs := range c.FoundSources {
		key := fs.Key()
		if key == "" {
			continue
		}
		if _, done := analyzed[key]; done {
			continue
		}

		text := sourceText(fs, papers, webSources)
		if text == "" {
			continue
		}
		text = truncateText(text, p.cfg.Pipeline.PreviewMaxChars)

		var extraction struct {
			KeyFindings []string `json:"key_findings"`
			Methodology string   `json:"methodology"`
			Limitations []string `json:"limitations"`
			Relevance   string   `json:"relevance"`
			Confidence  string   `json:"confidence"`
		}
		if err := p.chatJSON(ctx, analysisSystemPrompt, analysisPrompt(c.Idea, fs.Title, text), &extraction); err != nil {
			log.Warn("source analysis failed, skipping item",
				zap.String("key", key), zap.Error(err))
			continue
		}

		analyses = append(analyses, model.SourceAnalysis{
			PMID:        fs.PMID,
			URL:         fs.URL,
			Title:       fs.Title,
			KeyFindings: extraction.KeyFindings,
			Methodology: extraction.Methodology,
			Limitations: extraction.Limitations,
			Relevance:   extraction.Relevance,
			Confidence:  extraction.Confidence,
		})
		added++
	}

	status := model.StatusAnalyzing
	progress := p.cfg.Pipeline.Checkpoints.AnalyzeDone
	if err := p.store.UpdateConcept(ctx, id, store.ConceptUpdate{
		Status:   &status,
		Progress: &progress,
		Analyses: &analyses,
	}); err != nil {
		return nil, p.failConcept(ctx, id, err)
	}

	log.Info("analyze stage complete",
		zap.Int("sources_analyzed", len(analyses)),
		zap.Int("new_analyses", added),
	)

	return &AnalyzeResult{
		SourcesAnalyzed: len(analyses),
		NewAnalyses:     added,
		Status:          status,
		Progress:        progress,
	}, nil
}

// loadSourceCaches batch-loads the cache records backing a concept's found
// sources.
func (p *Pipeline) loadSourceCaches(ctx context.Context, c *model.Concept) (map[string]model.Paper, map[string]model.WebSource, error) {
	var pmids, urls []string
	for _, fs := range c.FoundSources {
		switch fs.Kind {
		case model.KindPubMed:
			pmids = append(pmids, fs.PMID)
		case model.KindWeb:
			urls = append(urls, fs.URL)
		}
	}

	papers, err := p.store.GetPapers(ctx, pmids)
	if err != nil {
		return nil, nil, err
	}
	webSources, err := p.store.GetWebSources(ctx, urls)
	if err != nil {
		return nil, nil, err
	}
	return papers, webSources, nil
}

// sourceText picks the best available text for analysis: cached full text,
// else the abstract or snippet.
func sourceText(fs model.FoundSource, papers map[string]model.Paper, webSources map[string]model.WebSource) string {
	switch fs.Kind {
	case model.KindPubMed:
		if paper, ok := papers[fs.PMID]; ok {
			if paper.Fulltext != "" {
				return paper.Fulltext
			}
			return paper.Abstract
		}
		return fs.Abstract
	case model.KindWeb:
		if ws, ok := webSources[fs.URL]; ok {
			if ws.Fulltext != "" {
				return ws.Fulltext
			}
			return ws.Snippet
		}
		return fs.Snippet
	}
	return ""
}

// AnalysisDetail is one analysis joined with its cache record.
type AnalysisDetail struct {
	model.SourceAnalysis
	Authors     []string `json:"authors,omitempty"`
	Journal     string   `json:"journal,omitempty"`
	Year        string   `json:"year,omitempty"`
	DOI         string   `json:"doi,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	HasFulltext bool     `json:"has_fulltext"`
}

// AnalysesResult is the read-only analysis digest for the writing step.
type AnalysesResult struct {
	ConceptID         string           `json:"concept_id"`
	Idea              string           `json:"idea"`
	Source            model.SourceMode `json:"source"`
	Status            model.Status     `json:"status"`
	Progress          int              `json:"progress"`
	GapIteration      int              `json:"gap_iteration"`
	SearchQueries     []string         `json:"search_queries,omitempty"`
	FoundSourcesCount int              `json:"found_sources_count"`
	KnowledgeGaps     []string         `json:"knowledge_gaps,omitempty"`
	Analyses          []AnalysisDetail `json:"analyses"`
}

// GetAnalyses returns all analyses enriched with bibliographic metadata.
// Read-only: no collaborator calls, no state mutation.
func (p *Pipeline) GetAnalyses(ctx context.Context, id string) (*AnalysesResult, error) {
	c, err := p.loadConcept(ctx, id)
	if err != nil {
		return nil, err
	}

	papers, webSources, err := p.loadSourceCaches(ctx, c)
	if err != nil {
		return nil, err
	}

	details := make([]AnalysisDetail, 0, len(c.Analyses))
	for _, a := range c.Analyses {
		d := AnalysisDetail{SourceAnalysis: a}
		if a.PMID != "" {
			if paper, ok := papers[a.PMID]; ok {
				d.Authors = paper.Authors
				if len(d.Authors) > 5 {
					d.Authors = d.Authors[:5]
				}
				d.Journal = paper.Journal
				d.Year = paper.Year
				d.DOI = paper.DOI
				d.HasFulltext = model.IsRealFulltext(paper.Fulltext)
			}
		} else if ws, ok := webSources[a.URL]; ok {
			d.Domain = ws.Domain
			d.HasFulltext = ws.Fulltext != ""
		}
		details = append(details, d)
	}

	return &AnalysesResult{
		ConceptID:         c.ID,
		Idea:              c.Idea,
		Source:            c.Source,
		Status:            c.Status,
		Progress:          c.Progress,
		GapIteration:      c.GapIteration,
		SearchQueries:     c.SearchQueries,
		FoundSourcesCount: len(c.FoundSources),
		KnowledgeGaps:     c.KnowledgeGaps,
		Analyses:          details,
	}, nil
}
