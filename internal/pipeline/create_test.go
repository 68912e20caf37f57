package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/loaderland/concept-runner/internal/model"
	"github.com/loaderland/concept-runner/internal/store"
)

func TestCreate(t *testing.T) {
	env := newTestEnv(t)

	env.llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(llmText(`{"search_queries":["gut microbiome depression","microbiota mood"],"slug":"gut-microbiome-depression"}`), nil)

	res, err := env.p.Create(context.Background(), "gut microbiome and depression", model.SourcePubMed)
	require.NoError(t, err)
	assert.Equal(t, "gut-microbiome-depression", res.Slug)
	assert.Equal(t, model.StatusCreated, res.Status)
	assert.Equal(t, 5, res.Progress)
	assert.Len(t, res.SearchQueries, 2)

	c := env.getConcept(t, res.ConceptID)
	assert.Equal(t, "gut microbiome and depression", c.Idea)
	assert.Equal(t, model.SourcePubMed, c.Source)
	assert.Equal(t, []string{"gut microbiome depression", "microbiota mood"}, c.SearchQueries)
}

func TestCreateSlugCollision(t *testing.T) {
	env := newTestEnv(t)
	env.seedConcept(t, &model.Concept{Idea: "taken", Slug: "vitamin-d"}, nil)

	env.llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(llmText(`{"search_queries":["vitamin d"],"slug":"vitamin-d"}`), nil)

	res, err := env.p.Create(context.Background(), "vitamin D again", model.SourceWeb)
	require.NoError(t, err)
	assert.NotEqual(t, "vitamin-d", res.Slug)
	assert.Regexp(t, `^vitamin-d-\d+$`, res.Slug)
}

func TestCreateSlugNormalization(t *testing.T) {
	env := newTestEnv(t)

	env.llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(llmText(`{"search_queries":["q"],"slug":"Omega 3 & Cognition!"}`), nil)

	res, err := env.p.Create(context.Background(), "omega 3", model.SourceBoth)
	require.NoError(t, err)
	assert.Equal(t, "omega-3-cognition", res.Slug)
}

func TestCreateLLMFailureCreatesNoRow(t *testing.T) {
	env := newTestEnv(t)

	env.llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("api unavailable"))

	_, err := env.p.Create(context.Background(), "an idea", model.SourcePubMed)
	require.Error(t, err)

	concepts, err := env.store.ListConcepts(context.Background(), store.ConceptFilter{})
	require.NoError(t, err)
	assert.Empty(t, concepts)
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.p.Create(context.Background(), "   ", model.SourcePubMed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = env.p.Create(context.Background(), "an idea", model.SourceMode("rss"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Already-Fine", "already-fine"},
		{"Spaces and CAPS", "spaces-and-caps"},
		{"trailing punctuation!!!", "trailing-punctuation"},
		{"--leading--", "leading"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slugify(tt.in))
	}
}
