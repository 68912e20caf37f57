package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/loaderland/concept-runner/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool. It serves deployments where
// the publishing site reads concepts from the same database.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS concepts (
	id             TEXT PRIMARY KEY,
	idea           TEXT NOT NULL,
	slug           TEXT NOT NULL UNIQUE,
	source         TEXT NOT NULL DEFAULT 'pubmed',
	status         TEXT NOT NULL DEFAULT 'created',
	progress       INTEGER NOT NULL DEFAULT 0,
	gap_iteration  INTEGER NOT NULL DEFAULT 0,
	search_queries JSONB,
	found_sources  JSONB,
	analyses       JSONB,
	knowledge_gaps JSONB,
	sources        JSONB,
	title          TEXT,
	excerpt        TEXT,
	content        TEXT,
	cover_image    TEXT,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS papers (
	pmid       TEXT PRIMARY KEY,
	pmc_id     TEXT,
	title      TEXT NOT NULL DEFAULT '',
	abstract   TEXT,
	authors    JSONB,
	journal    TEXT,
	year       TEXT,
	doi        TEXT,
	fulltext   TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS web_sources (
	url        TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	snippet    TEXT,
	fulltext   TEXT,
	domain     TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_concepts_status ON concepts(status);
CREATE INDEX IF NOT EXISTS idx_concepts_created_at ON concepts(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateConcept(ctx context.Context, c *model.Concept) error {
	queriesJSON, err := json.Marshal(c.SearchQueries)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal search queries")
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err = s.pool.Exec(ctx,
		`INSERT INTO concepts (id, idea, slug, source, status, progress, search_queries, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Idea, c.Slug, string(c.Source), string(c.Status), c.Progress, queriesJSON, now, now,
	)
	return eris.Wrap(err, "postgres: insert concept")
}

func (s *PostgresStore) GetConcept(ctx context.Context, id string) (*model.Concept, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conceptColumns+` FROM concepts WHERE id = $1`, id)
	c, err := scanConceptPg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get concept %s", id)
	}
	return c, nil
}

func (s *PostgresStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM concepts WHERE slug = $1`, slug).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "postgres: slug exists")
	}
	return n > 0, nil
}

func (s *PostgresStore) UpdateConcept(ctx context.Context, id string, upd ConceptUpdate) error {
	cols, args, err := upd.assignments()
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(cols)+1)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(cols)+1))
	args = append(args, time.Now().UTC(), id)

	tag, err := s.pool.Exec(ctx,
		`UPDATE concepts SET `+strings.Join(sets, ", ")+fmt.Sprintf(` WHERE id = $%d`, len(cols)+2),
		args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update concept %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("concept not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListConcepts(ctx context.Context, filter ConceptFilter) ([]model.Concept, error) {
	query := `SELECT ` + conceptColumns + ` FROM concepts WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list concepts")
	}
	defer rows.Close()

	var concepts []model.Concept
	for rows.Next() {
		c, err := scanConceptPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan concept")
		}
		concepts = append(concepts, *c)
	}
	return concepts, eris.Wrap(rows.Err(), "postgres: list concepts iterate")
}

// --- Paper cache ---

func (s *PostgresStore) GetPaper(ctx context.Context, pmid string) (*model.Paper, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT pmid, pmc_id, title, abstract, authors, journal, year, doi, fulltext, created_at
		 FROM papers WHERE pmid = $1`, pmid)
	p, err := scanPaperPg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get paper %s", pmid)
	}
	return p, nil
}

func (s *PostgresStore) GetPapers(ctx context.Context, pmids []string) (map[string]model.Paper, error) {
	papers := make(map[string]model.Paper, len(pmids))
	if len(pmids) == 0 {
		return papers, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT pmid, pmc_id, title, abstract, authors, journal, year, doi, fulltext, created_at
		 FROM papers WHERE pmid = ANY($1)`, pmids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get papers")
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPaperPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan paper")
		}
		papers[p.PMID] = *p
	}
	return papers, eris.Wrap(rows.Err(), "postgres: get papers iterate")
}

func (s *PostgresStore) UpsertPaper(ctx context.Context, p model.Paper) error {
	authorsJSON, err := json.Marshal(p.Authors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal authors")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO papers (pmid, pmc_id, title, abstract, authors, journal, year, doi, fulltext, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (pmid) DO UPDATE SET
			pmc_id = excluded.pmc_id,
			title = excluded.title,
			abstract = excluded.abstract,
			authors = excluded.authors,
			journal = excluded.journal,
			year = excluded.year,
			doi = excluded.doi`,
		p.PMID, p.PMCID, p.Title, p.Abstract, authorsJSON, p.Journal, p.Year, p.DOI, p.Fulltext, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert paper %s", p.PMID)
}

func (s *PostgresStore) SetPaperFulltext(ctx context.Context, pmid, fulltext string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE papers SET fulltext = $1 WHERE pmid = $2`, fulltext, pmid)
	if err != nil {
		return eris.Wrapf(err, "postgres: set paper fulltext %s", pmid)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("paper not found: %s", pmid)
	}
	return nil
}

// --- Web cache ---

func (s *PostgresStore) GetWebSource(ctx context.Context, url string) (*model.WebSource, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT url, title, snippet, fulltext, domain, created_at FROM web_sources WHERE url = $1`, url)
	ws, err := scanWebSourcePg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get web source %s", url)
	}
	return ws, nil
}

func (s *PostgresStore) GetWebSources(ctx context.Context, urls []string) (map[string]model.WebSource, error) {
	sources := make(map[string]model.WebSource, len(urls))
	if len(urls) == 0 {
		return sources, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT url, title, snippet, fulltext, domain, created_at FROM web_sources
		 WHERE url = ANY($1)`, urls)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get web sources")
	}
	defer rows.Close()

	for rows.Next() {
		ws, err := scanWebSourcePg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan web source")
		}
		sources[ws.URL] = *ws
	}
	return sources, eris.Wrap(rows.Err(), "postgres: get web sources iterate")
}

func (s *PostgresStore) UpsertWebSource(ctx context.Context, ws model.WebSource) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO web_sources (url, title, snippet, fulltext, domain, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (url) DO UPDATE SET
			title = excluded.title,
			snippet = excluded.snippet,
			domain = excluded.domain,
			fulltext = CASE WHEN excluded.fulltext != '' THEN excluded.fulltext ELSE web_sources.fulltext END`,
		ws.URL, ws.Title, ws.Snippet, ws.Fulltext, ws.Domain, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert web source %s", ws.URL)
}

func (s *PostgresStore) SetWebFulltext(ctx context.Context, url, fulltext string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE web_sources SET fulltext = $1 WHERE url = $2`, fulltext, url)
	if err != nil {
		return eris.Wrapf(err, "postgres: set web fulltext %s", url)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("web source not found: %s", url)
	}
	return nil
}

// --- scan helpers ---

func scanConceptPg(row scannable) (*model.Concept, error) {
	var c model.Concept
	var source, status string
	var queries, found, analyses, gaps, sources *[]byte
	var title, excerpt, content, coverImage, errMsg *string
	var completedAt *time.Time

	err := row.Scan(&c.ID, &c.Idea, &c.Slug, &source, &status, &c.Progress, &c.GapIteration,
		&queries, &found, &analyses, &gaps, &sources,
		&title, &excerpt, &content, &coverImage, &errMsg,
		&c.CreatedAt, &c.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	c.Source = model.SourceMode(source)
	c.Status = model.Status(status)
	c.Title = deref(title)
	c.Excerpt = deref(excerpt)
	c.Content = deref(content)
	c.CoverImage = deref(coverImage)
	c.ErrorMessage = deref(errMsg)
	c.CompletedAt = completedAt

	if err := unmarshalBytes(queries, &c.SearchQueries, "search queries"); err != nil {
		return nil, err
	}
	if err := unmarshalBytes(found, &c.FoundSources, "found sources"); err != nil {
		return nil, err
	}
	if err := unmarshalBytes(analyses, &c.Analyses, "analyses"); err != nil {
		return nil, err
	}
	if err := unmarshalBytes(gaps, &c.KnowledgeGaps, "knowledge gaps"); err != nil {
		return nil, err
	}
	if err := unmarshalBytes(sources, &c.Sources, "sources"); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanPaperPg(row scannable) (*model.Paper, error) {
	var p model.Paper
	var pmcID, abstract, journal, year, doi, fulltext *string
	var authors *[]byte

	err := row.Scan(&p.PMID, &pmcID, &p.Title, &abstract, &authors, &journal, &year, &doi, &fulltext, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.PMCID = deref(pmcID)
	p.Abstract = deref(abstract)
	p.Journal = deref(journal)
	p.Year = deref(year)
	p.DOI = deref(doi)
	p.Fulltext = deref(fulltext)
	if err := unmarshalBytes(authors, &p.Authors, "authors"); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanWebSourcePg(row scannable) (*model.WebSource, error) {
	var ws model.WebSource
	var snippet, fulltext, domain *string

	err := row.Scan(&ws.URL, &ws.Title, &snippet, &fulltext, &domain, &ws.CreatedAt)
	if err != nil {
		return nil, err
	}

	ws.Snippet = deref(snippet)
	ws.Fulltext = deref(fulltext)
	ws.Domain = deref(domain)
	return &ws, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func unmarshalBytes(col *[]byte, dst any, what string) error {
	if col == nil || len(*col) == 0 {
		return nil
	}
	if err := json.Unmarshal(*col, dst); err != nil {
		return eris.Wrapf(err, "unmarshal %s", what)
	}
	return nil
}
