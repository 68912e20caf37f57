package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.tavily.com"

// Client performs web search and page extraction against the Tavily API.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	Extract(ctx context.Context, urls []string) (*ExtractResponse, error)
}

// SearchRequest is the request body for POST /search.
type SearchRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results,omitempty"`
	IncludeRawContent bool   `json:"include_raw_content,omitempty"`
	SearchDepth       string `json:"search_depth,omitempty"`
}

// SearchResponse is the response from POST /search.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// SearchResult is a single web search hit.
type SearchResult struct {
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content"`
	Score      float64 `json:"score"`
}

// Domain extracts the host from the result URL, without a www prefix.
func (r SearchResult) Domain() string {
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}

type extractRequest struct {
	URLs         []string `json:"urls"`
	ExtractDepth string   `json:"extract_depth"`
}

// ExtractResponse is the response from POST /extract.
type ExtractResponse struct {
	Results       []ExtractResult `json:"results"`
	FailedResults []FailedResult  `json:"failed_results"`
}

// ExtractResult is a successfully extracted page.
type ExtractResult struct {
	URL        string `json:"url"`
	RawContent string `json:"raw_content"`
}

// FailedResult is a page that could not be extracted.
type FailedResult struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Tavily API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
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

// post executes a JSON POST with exponential backoff retries on transient
// failures (429, 500, 502, 503).
func (c *httpClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "tavily: marshal request")
	}

	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "tavily: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = eris.Wrap(err, "tavily: send request")
		} else {
			respBody, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr != nil {
				return eris.Wrap(readErr, "tavily: read response")
			}
			if resp.StatusCode == http.StatusOK {
				if err := json.Unmarshal(respBody, out); err != nil {
					return eris.Wrap(err, "tavily: unmarshal response")
				}
				return nil
			}
			lastErr = eris.Errorf("tavily: unexpected status %d: %s", resp.StatusCode, string(respBody))
			if !retryableStatusCode(resp.StatusCode) {
				return lastErr
			}
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return lastErr
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var result SearchResponse
	if err := c.post(ctx, "/search", req, &result); err != nil {
		return nil, eris.Wrapf(err, "tavily: search %q", req.Query)
	}
	return &result, nil
}

func (c *httpClient) Extract(ctx context.Context, urls []string) (*ExtractResponse, error) {
	if len(urls) == 0 {
		return &ExtractResponse{}, nil
	}

	var result ExtractResponse
	err := c.post(ctx, "/extract", extractRequest{URLs: urls, ExtractDepth: "basic"}, &result)
	if err != nil {
		return nil, eris.Wrap(err, "tavily: extract")
	}
	return &result, nil
}
