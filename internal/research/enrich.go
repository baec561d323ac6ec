package research

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"genie/internal/httpclient"
	"genie/internal/shared/logging"
)

// maxPageBytes caps how much of a page is read for title extraction.
const maxPageBytes = 512 << 10

// TitleFetcher pulls the <title> of a cited page so untitled citations get a
// readable name. Fetches run under a strict timeout; a slow page is not worth
// blocking a plan for.
type TitleFetcher struct {
	httpClient *http.Client
	logger     logging.Logger
}

// NewTitleFetcher builds a fetcher with the given per-page timeout.
func NewTitleFetcher(timeout time.Duration, client *http.Client) *TitleFetcher {
	logger := logging.NewComponentLogger("research-titles")
	if client == nil {
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		client = httpclient.New(timeout, logger)
	}
	return &TitleFetcher{httpClient: client, logger: logger}
}

// PageTitle fetches the page and returns its trimmed <title> text.
func (f *TitleFetcher) PageTitle(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("page returned %d", resp.StatusCode)
	}

	// Titles live in the head, so a truncated read is fine.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	}
	if title == "" {
		return "", fmt.Errorf("page has no title")
	}
	return collapseWhitespace(title), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
