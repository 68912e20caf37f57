package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/loaderland/concept-runner/internal/config"
	"github.com/loaderland/concept-runner/internal/model"
	"github.com/loaderland/concept-runner/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{Model: "test-model", MaxTokens: 1024},
		Pipeline: config.PipelineConfig{
			Checkpoints: config.Checkpoints{
				Create:        5,
				SearchStart:   10,
				SearchDone:    25,
				RetrieveStart: 28,
				RetrieveDone:  40,
				AnalyzeStart:  42,
				AnalyzeDone:   60,
				SaveArticle:   90,
				Publish:       100,
			},
			MaxPMIDsPerQuery:   15,
			TopPapersPerQuery:  5,
			WebResultsPerQuery: 5,
			TopWebSources:      8,
			ExtractBatchSize:   20,
			FulltextMaxChars:   15000,
			PreviewMaxChars:    12000,
		},
	}
}

type testEnv struct {
	p      *Pipeline
	store  store.Store
	llm    *MockLLM
	pubmed *MockPubMed
	tavily *MockTavily
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	env := &testEnv{
		store:  st,
		llm:    new(MockLLM),
		pubmed: new(MockPubMed),
		tavily: new(MockTavily),
	}
	env.p = New(testConfig(), st, env.llm, env.pubmed, env.tavily)
	return env
}

// seedConcept persists a concept directly, bypassing Create, then applies
// upd so tests can start at any stage.
func (e *testEnv) seedConcept(t *testing.T, c *model.Concept, upd *store.ConceptUpdate) *model.Concept {
	t.Helper()
	ctx := context.Background()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Slug == "" {
		c.Slug = "test-" + c.ID[:8]
	}
	if c.Source == "" {
		c.Source = model.SourcePubMed
	}
	if c.Status == "" {
		c.Status = model.StatusCreated
	}
	require.NoError(t, e.store.CreateConcept(ctx, c))

	if upd != nil {
		require.NoError(t, e.store.UpdateConcept(ctx, c.ID, *upd))
	}

	got, err := e.store.GetConcept(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func (e *testEnv) getConcept(t *testing.T, id string) *model.Concept {
	t.Helper()
	c, err := e.store.GetConcept(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func statusPtr(s model.Status) *model.Status { return &s }
func intPtr(n int) *int                      { return &n }
