package news

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/newssite/internal/warehouse"
)

// NewsAPI cuts content at about 200 characters and appends "[+N chars]".
var truncated = regexp.MustCompile(`\[\+\d+ chars\]\s*$`)

// Truncated reports whether content carries the NewsAPI truncation marker.
func Truncated(content string) bool {
	return truncated.MatchString(content)
}

// Enricher replaces truncated article content with readability-extracted text.
type Enricher struct {
	client *http.Client
	logger *slog.Logger
}

// NewEnricher creates an Enricher with the given per-request timeout.
func NewEnricher(timeout time.Duration, logger *slog.Logger) *Enricher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		logger: logger,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Enrich fills in content for truncated articles and returns how many were
// replaced. Hosts that answer with an HTTP error are not tried again.
func (e *Enricher) Enrich(ctx context.Context, articles []warehouse.Article) int {
	failedHosts := make(map[string]struct{})
	replaced := 0

	for i := range articles {
		a := &articles[i]
		if a.Content != "" && !Truncated(a.Content) {
			continue
		}
		u, err := url.Parse(a.URL)
		if err != nil || u.Host == "" {
			continue
		}
		host := strings.ToLower(u.Host)
		if _, failed := failedHosts[host]; failed {
			continue
		}

		text, err := e.extract(ctx, u)
		if err != nil {
			failedHosts[host] = struct{}{}
			e.logger.Warn("content extraction failed, skipping host", "url", a.URL, "host", host, "error", err)
			continue
		}
		if text != "" {
			a.Content = text
			replaced++
		}
	}

	e.logger.Info("content enrichment complete", "replaced", replaced, "failed_hosts", len(failedHosts))
	return replaced
}

func (e *Enricher) extract(ctx context.Context, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "newssite/1.0 (news aggregator)")

	resp, err := e.client.Do(req)
	if err != nil {
		// Connection errors are per-article, not per-host.
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return "", nil
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) > 100 {
		return text, nil
	}
	return "", nil
}
