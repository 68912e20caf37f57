package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/loaderland/concept-runner/internal/model"
	"github.com/loaderland/concept-runner/internal/store"
	"github.com/loaderland/concept-runner/pkg/tavily"
)

func seedRetrievable(t *testing.T, env *testEnv, found []model.FoundSource) *model.Concept {
	t.Helper()
	return env.seedConcept(t, &model.Concept{
		Idea:   "sleep and metabolic health",
		Source: model.SourceBoth,
		Status: model.StatusCreated,
	}, &store.ConceptUpdate{
		Status:       statusPtr(model.StatusSearching),
		Progress:     intPtr(25),
		FoundSources: &found,
	})
}

func TestRetrieveFulltextPubMed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Four cache situations: already cached, no pmcid but abstract, pmc
	// fetch succeeds, pmc fetch fails with abstract fallback.
	require.NoError(t, env.store.UpsertPaper(ctx, model.Paper{PMID: "1", Title: "cached", Abstract: "a1"}))
	require.NoError(t, env.store.SetPaperFulltext(ctx, "1", "already cached body"))
	require.NoError(t, env.store.UpsertPaper(ctx, model.Paper{PMID: "2", Title: "no pmc", Abstract: "a2"}))
	require.NoError(t, env.store.UpsertPaper(ctx, model.Paper{PMID: "3", PMCID: "PMC3", Title: "fetchable", Abstract: "a3"}))
	require.NoError(t, env.store.UpsertPaper(ctx, model.Paper{PMID: "4", PMCID: "PMC4", Title: "unfetchable", Abstract: "a4"}))

	c := seedRetrievable(t, env, []model.FoundSource{
		{Kind: model.KindPubMed, PMID: "1", Title: "cached"},
		{Kind: model.KindPubMed, PMID: "2", Title: "no pmc"},
		{Kind: model.KindPubMed, PMID: "3", Title: "fetchable"},
		{Kind: model.KindPubMed, PMID: "4", Title: "unfetchable"},
	})

	env.pubmed.On("FetchFulltext", mock.Anything, "PMC3").Return("full body three", nil)
	env.pubmed.On("FetchFulltext", mock.Anything, "PMC4").Return("", errors.New("not open access"))

	res, err := env.p.RetrieveFulltext(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, res.SourcesWithText)
	assert.Equal(t, 4, res.TotalSources)
	assert.Equal(t, model.StatusRetrieving, res.Status)
	assert.Equal(t, 40, res.Progress)

	p2, err := env.store.GetPaper(ctx, "2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p2.Fulltext, model.AbstractOnlyMarker))

	p3, err := env.store.GetPaper(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, "full body three", p3.Fulltext)

	p4, err := env.store.GetPaper(ctx, "4")
	require.NoError(t, err)
	assert.Equal(t, model.AbstractOnly("a4"), p4.Fulltext)
}

func TestRetrieveFulltextTruncates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertPaper(ctx, model.Paper{PMID: "1", PMCID: "PMC1", Title: "long"}))
	c := seedRetrievable(t, env, []model.FoundSource{
		{Kind: model.KindPubMed, PMID: "1", Title: "long"},
	})

	long := strings.Repeat("x", 20000)
	env.pubmed.On("FetchFulltext", mock.Anything, "PMC1").Return(long, nil)

	_, err := env.p.RetrieveFulltext(ctx, c.ID)
	require.NoError(t, err)

	p1, err := env.store.GetPaper(ctx, "1")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p1.Fulltext, "[Truncated]"))
	assert.Less(t, len(p1.Fulltext), 15100)
}

func TestRetrieveFulltextBareItemsDoNotFail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No abstract and no pmc: nothing can be synthesized.
	require.NoError(t, env.store.UpsertPaper(ctx, model.Paper{PMID: "9", Title: "bare"}))
	c := seedRetrievable(t, env, []model.FoundSource{
		{Kind: model.KindPubMed, PMID: "9", Title: "bare"},
	})

	res, err := env.p.RetrieveFulltext(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SourcesWithText)
	assert.Equal(t, 1, res.TotalSources)

	got := env.getConcept(t, c.ID)
	assert.Equal(t, model.StatusRetrieving, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestRetrieveFulltextWeb(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertWebSource(ctx, model.WebSource{URL: "https://a.test/1", Title: "a", Fulltext: "cached"}))
	require.NoError(t, env.store.UpsertWebSource(ctx, model.WebSource{URL: "https://b.test/2", Title: "b"}))
	require.NoError(t, env.store.UpsertWebSource(ctx, model.WebSource{URL: "https://c.test/3", Title: "c"}))

	c := seedRetrievable(t, env, []model.FoundSource{
		{Kind: model.KindWeb, URL: "https://a.test/1", Title: "a"},
		{Kind: model.KindWeb, URL: "https://b.test/2", Title: "b"},
		{Kind: model.KindWeb, URL: "https://c.test/3", Title: "c"},
	})

	env.tavily.On("Extract", mock.Anything, []string{"https://b.test/2", "https://c.test/3"}).
		Return(&tavily.ExtractResponse{
			Results:       []tavily.ExtractResult{{URL: "https://b.test/2", RawContent: "extracted b"}},
			FailedResults: []tavily.FailedResult{{URL: "https://c.test/3", Error: "timeout"}},
		}, nil)

	res, err := env.p.RetrieveFulltext(ctx, c.ID)
	require.NoError(t, err)
	// Cached a + extracted b; c failed extraction and stays bare.
	assert.Equal(t, 2, res.SourcesWithText)
	assert.Equal(t, 3, res.TotalSources)

	wb, err := env.store.GetWebSource(ctx, "https://b.test/2")
	require.NoError(t, err)
	assert.Equal(t, "extracted b", wb.Fulltext)

	wc, err := env.store.GetWebSource(ctx, "https://c.test/3")
	require.NoError(t, err)
	assert.Empty(t, wc.Fulltext)
}

func TestRetrieveRejectedFromCreated(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedConcept(t, &model.Concept{Idea: "too early"}, nil)

	_, err := env.p.RetrieveFulltext(context.Background(), c.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}
