package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/loaderland/concept-runner/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS concepts (
	id             TEXT PRIMARY KEY,
	idea           TEXT NOT NULL,
	slug           TEXT NOT NULL UNIQUE,
	source         TEXT NOT NULL DEFAULT 'pubmed',
	status         TEXT NOT NULL DEFAULT 'created',
	progress       INTEGER NOT NULL DEFAULT 0,
	gap_iteration  INTEGER NOT NULL DEFAULT 0,
	search_queries TEXT,
	found_sources  TEXT,
	analyses       TEXT,
	knowledge_gaps TEXT,
	sources        TEXT,
	title          TEXT,
	excerpt        TEXT,
	content        TEXT,
	cover_image    TEXT,
	error_message  TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at   DATETIME
);

CREATE TABLE IF NOT EXISTS papers (
	pmid       TEXT PRIMARY KEY,
	pmc_id     TEXT,
	title      TEXT NOT NULL DEFAULT '',
	abstract   TEXT,
	authors    TEXT,
	journal    TEXT,
	year       TEXT,
	doi        TEXT,
	fulltext   TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS web_sources (
	url        TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	snippet    TEXT,
	fulltext   TEXT,
	domain     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_concepts_status ON concepts(status);
CREATE INDEX IF NOT EXISTS idx_concepts_slug ON concepts(slug);
CREATE INDEX IF NOT EXISTS idx_concepts_created_at ON concepts(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const conceptColumns = `id, idea, slug, source, status, progress, gap_iteration,
	search_queries, found_sources, analyses, knowledge_gaps, sources,
	title, excerpt, content, cover_image, error_message,
	created_at, updated_at, completed_at`

func (s *SQLiteStore) CreateConcept(ctx context.Context, c *model.Concept) error {
	queriesJSON, err := json.Marshal(c.SearchQueries)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal search queries")
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO concepts (id, idea, slug, source, status, progress, search_queries, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Idea, c.Slug, string(c.Source), string(c.Status), c.Progress, string(queriesJSON), now, now,
	)
	return eris.Wrap(err, "sqlite: insert concept")
}

func (s *SQLiteStore) GetConcept(ctx context.Context, id string) (*model.Concept, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conceptColumns+` FROM concepts WHERE id = ?`, id)
	c, err := scanConcept(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get concept %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM concepts WHERE slug = ?`, slug).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: slug exists")
	}
	return n > 0, nil
}

func (s *SQLiteStore) UpdateConcept(ctx context.Context, id string, upd ConceptUpdate) error {
	cols, args, err := upd.assignments()
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		sets = append(sets, col+" = ?")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE concepts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update concept %s", id)
	}
	return checkRowsAffected(res, "concept", id)
}

func (s *SQLiteStore) ListConcepts(ctx context.Context, filter ConceptFilter) ([]model.Concept, error) {
	query := `SELECT ` + conceptColumns + ` FROM concepts WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list concepts")
	}
	defer rows.Close()

	var concepts []model.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan concept")
		}
		concepts = append(concepts, *c)
	}
	return concepts, eris.Wrap(rows.Err(), "sqlite: list concepts iterate")
}

// --- Paper cache ---

func (s *SQLiteStore) GetPaper(ctx context.Context, pmid string) (*model.Paper, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT pmid, pmc_id, title, abstract, authors, journal, year, doi, fulltext, created_at
		 FROM papers WHERE pmid = ?`, pmid)
	p, err := scanPaper(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get paper %s", pmid)
	}
	return p, nil
}

func (s *SQLiteStore) GetPapers(ctx context.Context, pmids []string) (map[string]model.Paper, error) {
	papers := make(map[string]model.Paper, len(pmids))
	if len(pmids) == 0 {
		return papers, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(pmids)), ",")
	args := make([]any, len(pmids))
	for i, id := range pmids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT pmid, pmc_id, title, abstract, authors, journal, year, doi, fulltext, created_at
		 FROM papers WHERE pmid IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get papers")
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan paper")
		}
		papers[p.PMID] = *p
	}
	return papers, eris.Wrap(rows.Err(), "sqlite: get papers iterate")
}

// UpsertPaper inserts or refreshes a paper's metadata. The fulltext column
// is deliberately absent from the conflict update so a re-fetch never
// discards previously cached full text.
func (s *SQLiteStore) UpsertPaper(ctx context.Context, p model.Paper) error {
	authorsJSON, err := json.Marshal(p.Authors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal authors")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO papers (pmid, pmc_id, title, abstract, authors, journal, year, doi, fulltext, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pmid) DO UPDATE SET
			pmc_id = excluded.pmc_id,
			title = excluded.title,
			abstract = excluded.abstract,
			authors = excluded.authors,
			journal = excluded.journal,
			year = excluded.year,
			doi = excluded.doi`,
		p.PMID, p.PMCID, p.Title, p.Abstract, string(authorsJSON), p.Journal, p.Year, p.DOI, p.Fulltext, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert paper %s", p.PMID)
}

func (s *SQLiteStore) SetPaperFulltext(ctx context.Context, pmid, fulltext string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE papers SET fulltext = ? WHERE pmid = ?`, fulltext, pmid)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set paper fulltext %s", pmid)
	}
	return checkRowsAffected(res, "paper", pmid)
}

// --- Web cache ---

func (s *SQLiteStore) GetWebSource(ctx context.Context, url string) (*model.WebSource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT url, title, snippet, fulltext, domain, created_at FROM web_sources WHERE url = ?`, url)
	ws, err := scanWebSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get web source %s", url)
	}
	return ws, nil
}

func (s *SQLiteStore) GetWebSources(ctx context.Context, urls []string) (map[string]model.WebSource, error) {
	sources := make(map[string]model.WebSource, len(urls))
	if len(urls) == 0 {
		return sources, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(urls)), ",")
	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT url, title, snippet, fulltext, domain, created_at FROM web_sources
		 WHERE url IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get web sources")
	}
	defer rows.Close()

	for rows.Next() {
		ws, err := scanWebSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan web source")
		}
		sources[ws.URL] = *ws
	}
	return sources, eris.Wrap(rows.Err(), "sqlite: get web sources iterate")
}

// UpsertWebSource inserts or refreshes a web source. An empty incoming
// fulltext never clears one already cached.
func (s *SQLiteStore) UpsertWebSource(ctx context.Context, ws model.WebSource) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO web_sources (url, title, snippet, fulltext, domain, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			snippet = excluded.snippet,
			domain = excluded.domain,
			fulltext = CASE WHEN excluded.fulltext != '' THEN excluded.fulltext ELSE web_sources.fulltext END`,
		ws.URL, ws.Title, ws.Snippet, ws.Fulltext, ws.Domain, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert web source %s", ws.URL)
}

func (s *SQLiteStore) SetWebFulltext(ctx context.Context, url, fulltext string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE web_sources SET fulltext = ? WHERE url = ?`, fulltext, url)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set web fulltext %s", url)
	}
	return checkRowsAffected(res, "web source", url)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConcept(row scannable) (*model.Concept, error) {
	var c model.Concept
	var source, status string
	var queries, found, analyses, gaps, sources sql.NullString
	var title, excerpt, content, coverImage, errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&c.ID, &c.Idea, &c.Slug, &source, &status, &c.Progress, &c.GapIteration,
		&queries, &found, &analyses, &gaps, &sources,
		&title, &excerpt, &content, &coverImage, &errMsg,
		&c.CreatedAt, &c.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	c.Source = model.SourceMode(source)
	c.Status = model.Status(status)
	c.Title = title.String
	c.Excerpt = excerpt.String
	c.Content = content.String
	c.CoverImage = coverImage.String
	c.ErrorMessage = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}

	if err := unmarshalInto(queries, &c.SearchQueries, "search queries"); err != nil {
		return nil, err
	}
	if err := unmarshalInto(found, &c.FoundSources, "found sources"); err != nil {
		return nil, err
	}
	if err := unmarshalInto(analyses, &c.Analyses, "analyses"); err != nil {
		return nil, err
	}
	if err := unmarshalInto(gaps, &c.KnowledgeGaps, "knowledge gaps"); err != nil {
		return nil, err
	}
	if err := unmarshalInto(sources, &c.Sources, "sources"); err != nil {
		return nil, err
	}
	return &c, nil
}

func unmarshalInto(col sql.NullString, dst any, what string) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return eris.Wrapf(err, "unmarshal %s", what)
	}
	return nil
}

func scanPaper(row scannable) (*model.Paper, error) {
	var p model.Paper
	var pmcID, abstract, authors, journal, year, doi, fulltext sql.NullString

	err := row.Scan(&p.PMID, &pmcID, &p.Title, &abstract, &authors, &journal, &year, &doi, &fulltext, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.PMCID = pmcID.String
	p.Abstract = abstract.String
	p.Journal = journal.String
	p.Year = year.String
	p.DOI = doi.String
	p.Fulltext = fulltext.String
	if err := unmarshalInto(authors, &p.Authors, "authors"); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanWebSource(row scannable) (*model.WebSource, error) {
	var ws model.WebSource
	var snippet, fulltext, domain sql.NullString

	err := row.Scan(&ws.URL, &ws.Title, &snippet, &fulltext, &domain, &ws.CreatedAt)
	if err != nil {
		return nil, err
	}

	ws.Snippet = snippet.String
	ws.Fulltext = fulltext.String
	ws.Domain = domain.String
	return &ws, nil
}
