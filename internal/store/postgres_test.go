package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loaderland/concept-runner/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_CreateConcept(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	c := &model.Concept{
		ID:            uuid.NewString(),
		Idea:          "omega-3 and cognition",
		Slug:          "omega-3-cognition",
		Source:        model.SourcePubMed,
		Status:        model.StatusCreated,
		Progress:      5,
		SearchQueries: []string{"omega-3 cognitive function"},
	}

	mock.ExpectExec(`INSERT INTO concepts`).
		WithArgs(c.ID, c.Idea, c.Slug, "pubmed", "created", 5,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateConcept(context.Background(), c))
	assert.False(t, c.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConcept_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM concepts WHERE id = \$1`).
		WithArgs("missing-id").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetConcept(context.Background(), "missing-id")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SlugExists(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(1\) FROM concepts WHERE slug = \$1`).
		WithArgs("taken-slug").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := s.SlugExists(context.Background(), "taken-slug")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateConcept_Partial(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Only the named columns plus updated_at appear in the statement.
	mock.ExpectExec(`UPDATE concepts SET status = \$1, progress = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs("searching", 25, pgxmock.AnyArg(), "concept-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateConcept(context.Background(), "concept-1", ConceptUpdate{
		Status:   ptr(model.StatusSearching),
		Progress: ptr(25),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateConcept_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE concepts SET`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateConcept(context.Background(), "ghost", ConceptUpdate{
		Progress: ptr(50),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPaper(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO papers .+ ON CONFLICT \(pmid\) DO UPDATE`).
		WithArgs("42", "PMC42", "Title", "Abstract", pgxmock.AnyArg(), "Journal", "2024", "10.1/doi", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertPaper(context.Background(), model.Paper{
		PMID: "42", PMCID: "PMC42", Title: "Title", Abstract: "Abstract",
		Authors: []string{"Doe J"}, Journal: "Journal", Year: "2024", DOI: "10.1/doi",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPaper_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM papers WHERE pmid = \$1`).
		WithArgs("404").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetPaper(context.Background(), "404")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetPaperFulltext_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE papers SET fulltext = \$1 WHERE pmid = \$2`).
		WithArgs("body", "404").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetPaperFulltext(context.Background(), "404", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertWebSource(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO web_sources .+ ON CONFLICT \(url\) DO UPDATE`).
		WithArgs("https://example.org/a", "Title", "Snippet", "", "example.org", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertWebSource(context.Background(), model.WebSource{
		URL: "https://example.org/a", Title: "Title", Snippet: "Snippet", Domain: "example.org",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
