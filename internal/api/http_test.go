package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loaderland/concept-runner/internal/model"
	"github.com/loaderland/concept-runner/internal/pipeline"
)

func TestHTTPHealth(t *testing.T) {
	pipe, _ := newTestPipeline(t, &stubLLM{})
	srv := httptest.NewServer(NewRouter(pipe))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPGetConcept(t *testing.T) {
	pipe, st := newTestPipeline(t, &stubLLM{})
	c := seedConcept(t, st, model.StatusSearching, 25)

	srv := httptest.NewServer(NewRouter(pipe))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/concepts/" + c.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status pipeline.StatusResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, c.ID, status.ConceptID)
	assert.Equal(t, model.StatusSearching, status.Status)
	assert.Equal(t, 25, status.Progress)
}

func TestHTTPGetConceptNotFound(t *testing.T) {
	pipe, _ := newTestPipeline(t, &stubLLM{})
	srv := httptest.NewServer(NewRouter(pipe))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/concepts/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPListConcepts(t *testing.T) {
	pipe, st := newTestPipeline(t, &stubLLM{})
	seedConcept(t, st, model.StatusCreated, 5)
	seedConcept(t, st, model.StatusPublished, 100)

	srv := httptest.NewServer(NewRouter(pipe))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/concepts?status=published")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []pipeline.ConceptSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	assert.Len(t, summaries, 1)

	bad, err := http.Get(srv.URL + "/concepts?status=bogus")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHTTPGetAnalyses(t *testing.T) {
	pipe, st := newTestPipeline(t, &stubLLM{})
	c := seedConcept(t, st, model.StatusAnalyzing, 60)

	srv := httptest.NewServer(NewRouter(pipe))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/concepts/" + c.ID + "/analyses")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res pipeline.AnalysesResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, c.ID, res.ConceptID)
	assert.Empty(t, res.Analyses)
}
