// Package fetcher downloads feed documents and hands them to the RSS parser.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"rss_reader/internal/apperr"
	"rss_reader/internal/model"
	"rss_reader/internal/rss"
)

const (
	userAgent   = "RSSReader/1.0"
	maxBodySize = 5 * 1024 * 1024
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses RSS feeds.
type Fetcher struct {
	client HTTPClient
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch downloads the document at rawURL and parses it. When the URL serves
// an HTML page that advertises a feed, the advertised feed is fetched instead
// and the returned header carries the feed's own URL.
//
// Errors are classified as apperr.InvalidURL, apperr.Network or apperr.Parse.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*model.Feed, []model.FeedItem, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, nil, err
	}

	body, contentType, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}

	source := rawURL
	if isHTML(contentType, body) {
		alt, ok := Discover(body, rawURL)
		if !ok {
			return nil, nil, apperr.New(apperr.Parse, "page does not advertise a feed")
		}
		source = alt
		if body, _, err = f.get(ctx, alt); err != nil {
			return nil, nil, err
		}
	}

	feed, items, err := rss.Parse(body, source)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Parse, "parse feed", err)
	}
	return feed, items, nil
}

// FetchItems returns only the items of the feed at rawURL.
func (f *Fetcher) FetchItems(ctx context.Context, rawURL string) ([]model.FeedItem, error) {
	_, items, err := f.Fetch(ctx, rawURL)
	return items, err
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.InvalidURL, "create request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.5, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Network, "http get", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", apperr.Wrap(apperr.Network, "http get", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Network, "read body", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// ValidateURL checks that rawURL is an absolute http or https URL.
func ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return apperr.New(apperr.InvalidURL, "empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return apperr.Wrap(apperr.InvalidURL, "parse URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.Wrap(apperr.InvalidURL, rawURL, errors.New("scheme must be http or https"))
	}
	if u.Host == "" {
		return apperr.Wrap(apperr.InvalidURL, rawURL, errors.New("missing host"))
	}
	return nil
}
