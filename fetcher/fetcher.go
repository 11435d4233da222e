package fetcher

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JerryLinyx/feedrefresh/models"
)

// FetchError reports a feed that could not be retrieved or parsed.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

// HTTPFetcher retrieves RSS 2.0 and Atom feeds over HTTP.
type HTTPFetcher struct {
	client       *http.Client
	maxBodyBytes int64
	userAgent    string
}

func New(cfg Config) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	return &HTTPFetcher{
		client:       &http.Client{Timeout: cfg.Timeout},
		maxBodyBytes: cfg.MaxBodyBytes,
		userAgent:    cfg.UserAgent,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, feedURL string) (*models.FeedContent, error) {
	content, err := f.fetch(ctx, feedURL)
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	return content, nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, feedURL string) (*models.FeedContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes an RSS 2.0 or Atom document.
func Parse(data []byte) (*models.FeedContent, error) {
	var root struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	switch strings.ToLower(root.XMLName.Local) {
	case "feed":
		return parseAtom(data)
	case "rss", "rdf":
		return parseRSS(data)
	default:
		return nil, fmt.Errorf("unsupported feed document <%s>", root.XMLName.Local)
	}
}
