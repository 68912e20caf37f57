package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/loaderland/concept-runner/internal/model"
	"github.com/loaderland/concept-runner/internal/store"
	"github.com/loaderland/concept-runner/pkg/llm"
)

const analysisJSON = `{"key_findings":["finding"],"methodology":"RCT","limitations":["small n"],"relevance":"direct","confidence":"high"}`

func seedAnalyzable(t *testing.T, env *testEnv, n int) *model.Concept {
	t.Helper()
	ctx := context.Background()

	found := make([]model.FoundSource, n)
	for i := range found {
		pmid := fmt.Sprintf("%d", 3001+i)
		found[i] = model.FoundSource{Kind: model.KindPubMed, PMID: pmid, Title: "Paper " + pmid}
		require.NoError(t, env.store.UpsertPaper(ctx, model.Paper{
			PMID: pmid, Title: "Paper " + pmid, Abstract: "abstract " + pmid,
		}))
		require.NoError(t, env.store.SetPaperFulltext(ctx, pmid, "full text of paper "+pmid))
	}

	return env.seedConcept(t, &model.Concept{
		Idea:   "fiber and cardiovascular outcomes",
		Status: model.StatusCreated,
	}, &store.ConceptUpdate{
		Status:       statusPtr(model.StatusRetrieving),
		Progress:     intPtr(40),
		FoundSources: &found,
	})
}

func TestAnalyze(t *testing.T) {
	env := newTestEnv(t)
	c := seedAnalyzable(t, env, 3)

	env.llm.On("CreateMessage", mock.Anything, mock.Anything).Return(llmText(analysisJSON), nil)

	res, err := env.p.Analyze(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SourcesAnalyzed)
	assert.Equal(t, 3, res.NewAnalyses)
	assert.Equal(t, model.StatusAnalyzing, res.Status)
	assert.Equal(t, 60, res.Progress)

	got := env.getConcept(t, c.ID)
	require.Len(t, got.Analyses, 3)
	assert.Equal(t, "3001", got.Analyses[0].PMID)
	assert.Equal(t, []string{"finding"}, got.Analyses[0].KeyFindings)
	assert.Equal(t, "high", got.Analyses[0].Confidence)
}

func TestAnalyzePartialFailure(t *testing.T) {
	env := newTestEnv(t)
	c := seedAnalyzable(t, env, 5)

	// Item 3 of 5 fails; the other four survive.
	env.llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req llm.MessageRequest) bool {
		return strings.Contains(req.Messages[0].Content, "Paper 3003")
	})).Return(nil, errors.New("model overloaded"))
	env.llm.On("CreateMessage", mock.Anything, mock.Anything).Return(llmText(analysisJSON), nil)

	res, err := env.p.Analyze(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, res.NewAnalyses)
	assert.Equal(t, 4, res.SourcesAnalyzed)
	assert.Equal(t, model.StatusAnalyzing, res.Status)

	got := env.getConcept(t, c.ID)
	assert.Empty(t, got.ErrorMessage)
	for _, a := range got.Analyses {
		assert.NotEqual(t, "3003", a.PMID)
	}
}

func TestAnalyzeSkipsAlreadyAnalyzed(t *testing.T) {
	env := newTestEnv(t)
	c := seedAnalyzable(t, env, 2)

	env.llm.On("CreateMessage", mock.Anything, mock.Anything).Return(llmText(analysisJSON), nil)

	first, err := env.p.Analyze(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, first.NewAnalyses)

	second, err := env.p.Analyze(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewAnalyses)
	assert.Equal(t, 2, second.SourcesAnalyzed)
}

func TestAnalyzeSkipsTextlessSources(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Cache record exists but carries neither fulltext nor abstract.
	require.NoError(t, env.store.UpsertPaper(ctx, model.Paper{PMID: "7001", Title: "bare"}))
	found := []model.FoundSource{{Kind: model.KindPubMed, PMID: "7001", Title: "bare"}}
	c := env.seedConcept(t, &model.Concept{Idea: "idea"}, &store.ConceptUpdate{
		Status:       statusPtr(model.StatusRetrieving),
		Progress:     intPtr(40),
		FoundSources: &found,
	})

	res, err := env.p.Analyze(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewAnalyses)
	env.llm.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestGetAnalysesEnrichment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertPaper(ctx, model.Paper{
		PMID:    "5001",
		Title:   "Enriched paper",
		Authors: []string{"A", "B", "C", "D", "E", "F", "G"},
		Journal: "JAMA",
		Year:    "2022",
		DOI:     "10.1/abc",
	}))
	require.NoError(t, env.store.SetPaperFulltext(ctx, "5001", model.AbstractOnly("only the abstract")))
	require.NoError(t, env.store.UpsertWebSource(ctx, model.WebSource{
		URL: "https://site.test/p", Title: "Web page", Domain: "site.test", Fulltext: "page body",
	}))

	found := []model.FoundSource{
		{Kind: model.KindPubMed, PMID: "5001", Title: "Enriched paper"},
		{Kind: model.KindWeb, URL: "https://site.test/p", Title: "Web page"},
	}
	analyses := []model.SourceAnalysis{
		{PMID: "5001", Title: "Enriched paper", Confidence: "high"},
		{URL: "https://site.test/p", Title: "Web page", Confidence: "medium"},
	}
	gaps := []string{"long-term outcomes"}
	c := env.seedConcept(t, &model.Concept{
		Idea:          "idea",
		Source:        model.SourceBoth,
		SearchQueries: []string{"q1", "q2"},
	}, &store.ConceptUpdate{
		Status:        statusPtr(model.StatusAnalyzing),
		Progress:      intPtr(60),
		GapIteration:  intPtr(1),
		FoundSources:  &found,
		Analyses:      &analyses,
		KnowledgeGaps: &gaps,
	})

	res, err := env.p.GetAnalyses(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceBoth, res.Source)
	assert.Equal(t, model.StatusAnalyzing, res.Status)
	assert.Equal(t, 60, res.Progress)
	assert.Equal(t, 1, res.GapIteration)
	assert.Equal(t, []string{"q1", "q2"}, res.SearchQueries)
	assert.Equal(t, 2, res.FoundSourcesCount)
	assert.Equal(t, []string{"long-term outcomes"}, res.KnowledgeGaps)
	require.Len(t, res.Analyses, 2)

	paper := res.Analyses[0]
	assert.Len(t, paper.Authors, 5)
	assert.Equal(t, "JAMA", paper.Journal)
	assert.Equal(t, "10.1/abc", paper.DOI)
	// Abstract stand-ins do not count as real full text.
	assert.False(t, paper.HasFulltext)

	web := res.Analyses[1]
	assert.Equal(t, "site.test", web.Domain)
	assert.True(t, web.HasFulltext)
}

func TestGetAnalysesReadOnly(t *testing.T) {
	env := newTestEnv(t)
	c := seedAnalyzable(t, env, 1)

	before := env.getConcept(t, c.ID)
	_, err := env.p.GetAnalyses(context.Background(), c.ID)
	require.NoError(t, err)

	after := env.getConcept(t, c.ID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Progress, after.Progress)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}
