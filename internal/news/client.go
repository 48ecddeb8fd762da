// Package news fetches articles from newsapi.org and RSS feeds and formats
// them into warehouse article records.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://newsapi.org"
	everythingPath = "/v2/everything"
)

// APIError is a non-ok response from NewsAPI.
type APIError struct {
	HTTPStatus int
	Status     string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("newsapi %s (%d): %s: %s", e.Status, e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("newsapi %s (%d)", e.Status, e.HTTPStatus)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus >= 500 || e.Code == "rateLimited"
}

// Source is the NewsAPI source object.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// APIArticle is one article as returned by /v2/everything.
type APIArticle struct {
	Source      Source `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

// Response is the body of a /v2/everything call.
type Response struct {
	Status       string       `json:"status"`
	TotalResults int          `json:"totalResults"`
	Articles     []APIArticle `json:"articles"`
	Code         string       `json:"code,omitempty"`
	Message      string       `json:"message,omitempty"`
}

// Options configures a Client.
type Options struct {
	APIKey            string
	BaseURL           string
	Language          string
	PageSize          int
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client calls the NewsAPI everything endpoint.
type Client struct {
	apiKey   string
	baseURL  string
	language string
	pageSize int
	limiter  *rate.Limiter
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates a NewsAPI client.
func NewClient(opts Options) *Client {
	c := &Client{
		apiKey:   opts.APIKey,
		baseURL:  opts.BaseURL,
		language: opts.Language,
		pageSize: opts.PageSize,
		client:   opts.HTTPClient,
		logger:   opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.language == "" {
		c.language = "en"
	}
	if c.pageSize <= 0 || c.pageSize > 100 {
		c.pageSize = 100
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	c.limiter = rate.NewLimiter(limit, 1)
	return c
}

// IsConfigured returns whether the API key is available.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// GetNews requests articles published since from for the given comma-separated
// domains, newest first.
func (c *Client) GetNews(ctx context.Context, from time.Time, domains string) (*Response, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("newsapi key not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"from":     {from.UTC().Format("2006-01-02")},
		"language": {c.language},
		"pageSize": {strconv.Itoa(c.pageSize)},
		"sortBy":   {"publishedAt"},
	}
	if domains != "" {
		params.Set("domains", domains)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+everythingPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	c.logger.Info("requesting news", "endpoint", everythingPath, "from", params.Get("from"), "domains", domains)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi request: %w", err)
	}
	defer resp.Body.Close()

	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &APIError{HTTPStatus: resp.StatusCode, Status: "undecodable", Message: err.Error()}
	}

	c.logger.Info("news response", "status", body.Status, "total_results", body.TotalResults, "articles", len(body.Articles))

	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		return nil, &APIError{
			HTTPStatus: resp.StatusCode,
			Status:     body.Status,
			Code:       body.Code,
			Message:    body.Message,
		}
	}
	return &body, nil
}
