package common

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-shiori/go-readability"
)

const maxArticleBytes = 10 << 20

var articleClient = &http.Client{Timeout: 30 * time.Second}

// FetchArticle downloads a web page and extracts its readable text as a
// single-page Document.
func FetchArticle(ctx context.Context, rawURL string) (*Document, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") {
		return nil, fmt.Errorf("invalid article url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := articleClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch article: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch article: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxArticleBytes))
	if err != nil {
		return nil, fmt.Errorf("read article: %w", err)
	}

	return ParseArticle(body, parsedURL)
}

// ParseArticle extracts readable text from an HTML page.
func ParseArticle(body []byte, pageURL *url.URL) (*Document, error) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract article: %w", err)
	}

	text := NormalizeWhitespace(article.TextContent)
	if text == "" {
		return nil, ErrNoText
	}
	return &Document{Title: article.Title, Pages: []string{text}}, nil
}
