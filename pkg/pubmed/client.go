package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL         = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	defaultFulltextBaseURL = "https://www.ncbi.nlm.nih.gov/research/bionlp/RESTful/pmcoa.cgi"
	toolName               = "concept-runner"
)

// Client performs bibliographic lookups against NCBI E-utilities and the
// PMC open access fulltext service.
type Client interface {
	// Search returns up to limit PMIDs for a query, relevance sorted.
	Search(ctx context.Context, query string, limit int) ([]string, error)
	// FetchMetadata fetches article metadata for a set of PMIDs.
	FetchMetadata(ctx context.Context, pmids []string) ([]Paper, error)
	// FetchFulltext fetches the open access full text for a PMC ID.
	FetchFulltext(ctx context.Context, pmcID string) (string, error)
}

// Paper is the metadata returned for one article.
type Paper struct {
	PMID     string
	PMCID    string
	Title    string
	Abstract string
	Authors  []string
	Journal  string
	Year     string
	DOI      string
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the E-utilities base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithFulltextBaseURL overrides the PMC fulltext service URL.
func WithFulltextBaseURL(u string) Option {
	return func(c *httpClient) {
		c.fulltextBaseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the request rate. NCBI allows 3 req/s without an
// API key.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

type httpClient struct {
	baseURL         string
	fulltextBaseURL string
	email           string
	http            *http.Client
	limiter         *rate.Limiter
}

// NewClient creates an NCBI client. The email identifies the caller to NCBI
// per their usage policy.
func NewClient(email string, opts ...Option) Client {
	c := &httpClient{
		baseURL:         defaultBaseURL,
		fulltextBaseURL: defaultFulltextBaseURL,
		email:           email,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(3), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// get executes a rate-limited GET with exponential backoff retries on
// transient failures (429, 500, 502, 503). NCBI throttles aggressively, so
// every attempt waits on the limiter first.
func (c *httpClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "pubmed: create request")
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "pubmed: rate limit wait")
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = eris.Wrap(err, "pubmed: send request")
		} else {
			body, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr != nil {
				return nil, eris.Wrap(readErr, "pubmed: read response")
			}
			if resp.StatusCode == http.StatusOK {
				return body, nil
			}
			lastErr = eris.Errorf("pubmed: unexpected status %d: %s", resp.StatusCode, truncateBody(body))
			if !retryableStatusCode(resp.StatusCode) {
				return nil, lastErr
			}
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

func truncateBody(b []byte) string {
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

func (c *httpClient) Search(ctx context.Context, query string, limit int) ([]string, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {query},
		"retmax":  {strconv.Itoa(limit)},
		"retmode": {"json"},
		"sort":    {"relevance"},
		"tool":    {toolName},
		"email":   {c.email},
	}

	body, err := c.get(ctx, c.baseURL+"/esearch.fcgi?"+params.Encode())
	if err != nil {
		return nil, eris.Wrapf(err, "pubmed: search %q", query)
	}

	var result esearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "pubmed: unmarshal search response")
	}
	return result.Result.IDList, nil
}

// efetch XML shapes. Titles and abstract parts can carry inline markup, so
// they are captured as inner XML and stripped.
type efetchResponse struct {
	Articles []efetchArticle `xml:"PubmedArticle"`
}

type efetchArticle struct {
	Citation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Title    markupText `xml:"ArticleTitle"`
			Abstract struct {
				Parts []abstractPart `xml:"AbstractText"`
			} `xml:"Abstract"`
			Authors []struct {
				LastName string `xml:"LastName"`
				ForeName string `xml:"ForeName"`
			} `xml:"AuthorList>Author"`
			Journal struct {
				Title string `xml:"Title"`
				Issue struct {
					PubDate struct {
						Year        string `xml:"Year"`
						MedlineDate string `xml:"MedlineDate"`
					} `xml:"PubDate"`
				} `xml:"JournalIssue"`
			} `xml:"Journal"`
		} `xml:"Article"`
	} `xml:"MedlineCitation"`
	Data struct {
		IDs []struct {
			Type  string `xml:"IdType,attr"`
			Value string `xml:",chardata"`
		} `xml:"ArticleIdList>ArticleId"`
	} `xml:"PubmedData"`
}

// markupText captures an element's raw inner XML so inline markup such as
// <i> can be stripped rather than silently dropped.
type markupText struct {
	Raw string `xml:",innerxml"`
}

type abstractPart struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",innerxml"`
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

func stripTags(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, ""))
}

func (c *httpClient) FetchMetadata(ctx context.Context, pmids []string) ([]Paper, error) {
	if len(pmids) == 0 {
		return nil, nil
	}

	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(pmids, ",")},
		"retmode": {"xml"},
		"tool":    {toolName},
		"email":   {c.email},
	}

	body, err := c.get(ctx, c.baseURL+"/efetch.fcgi?"+params.Encode())
	if err != nil {
		return nil, eris.Wrap(err, "pubmed: fetch metadata")
	}

	var result efetchResponse
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "pubmed: unmarshal efetch response")
	}

	papers := make([]Paper, 0, len(result.Articles))
	for _, a := range result.Articles {
		papers = append(papers, fromEfetchArticle(a))
	}
	return papers, nil
}

func fromEfetchArticle(a efetchArticle) Paper {
	p := Paper{
		PMID:    a.Citation.PMID,
		Title:   stripTags(a.Citation.Article.Title.Raw),
		Journal: a.Citation.Article.Journal.Title,
	}

	var parts []string
	for _, part := range a.Citation.Article.Abstract.Parts {
		text := stripTags(part.Text)
		if text == "" {
			continue
		}
		if part.Label != "" {
			text = part.Label + ": " + text
		}
		parts = append(parts, text)
	}
	p.Abstract = strings.Join(parts, "\n")

	for _, au := range a.Citation.Article.Authors {
		name := strings.TrimSpace(au.LastName + " " + au.ForeName)
		if name != "" {
			p.Authors = append(p.Authors, name)
		}
	}

	p.Year = a.Citation.Article.Journal.Issue.PubDate.Year
	if p.Year == "" {
		if md := a.Citation.Article.Journal.Issue.PubDate.MedlineDate; len(md) >= 4 {
			p.Year = md[:4]
		}
	}

	for _, id := range a.Data.IDs {
		switch id.Type {
		case "doi":
			p.DOI = strings.TrimSpace(id.Value)
		case "pmc":
			p.PMCID = strings.TrimSpace(id.Value)
		}
	}
	return p
}

// BioC XML shapes for the PMC open access service.
type biocCollection struct {
	Documents []struct {
		Passages []struct {
			Text string `xml:"text"`
		} `xml:"passage"`
	} `xml:"document"`
}

func (c *httpClient) FetchFulltext(ctx context.Context, pmcID string) (string, error) {
	if pmcID == "" {
		return "", eris.New("pubmed: empty pmc id")
	}

	body, err := c.get(ctx, c.fulltextBaseURL+"/BioC_xml/"+url.PathEscape(pmcID)+"/unicode")
	if err != nil {
		return "", eris.Wrapf(err, "pubmed: fetch fulltext %s", pmcID)
	}

	var coll biocCollection
	if err := xml.Unmarshal(body, &coll); err != nil {
		return "", eris.Wrapf(err, "pubmed: unmarshal bioc response %s", pmcID)
	}

	var sections []string
	for _, doc := range coll.Documents {
		for _, passage := range doc.Passages {
			text := strings.TrimSpace(passage.Text)
			if text != "" {
				sections = append(sections, text)
			}
		}
	}
	return strings.Join(sections, "\n\n"), nil
}
