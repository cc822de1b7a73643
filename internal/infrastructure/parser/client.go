package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"NewsDigest/internal/domain"
)

const defaultUserAgent = "newsdigest/1.0"

// Client performs page requests shared by all strategies.
type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient wires an HTTP client; nil falls back to a 25s timeout client.
func NewClient(client *http.Client, userAgent string) *Client {
	if client == nil {
		client = &http.Client{Timeout: 25 * time.Second}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{http: client, userAgent: userAgent}
}

// Document downloads and parses an HTML page. Network failures and 5xx
// answers come back as *domain.TransientFetchError.
func (c *Client) Document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.TransientFetchError{URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.TransientFetchError{URL: pageURL, Err: fmt.Errorf("status %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch %s: status %s", pageURL, resp.Status)
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		body = resp.Body
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}
