// Package fetch produces cacheable pages from HTTP URLs.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/cafeofbrokendreams/cafesite/internal/cache"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "cafecache/1.0"

// Config holds configuration for a Client.
type Config struct {
	// Timeout for a single request - defaults to 10s
	Timeout time.Duration

	// Rate limit requests per minute to avoid being blocked (defaults to 30)
	RequestsPerMinute int

	// User-Agent header - defaults to DefaultUserAgent
	UserAgent string
}

// Page is a fetched HTTP response body. It is the payload stored in page
// caches.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// StatusError is returned when a server answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP status %d", e.URL, e.StatusCode)
}

// Client fetches pages, rate limiting every request.
type Client struct {
	resty       *resty.Client
	rateLimiter *rate.Limiter
}

// New creates a new Client.
func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 30
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}

	rc := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", config.UserAgent)

	return &Client{
		resty:       rc,
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
	}
}

// Fetch downloads url.
func (c *Client) Fetch(ctx context.Context, url string) (Page, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return Page{}, fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := c.resty.R().SetContext(ctx).Get(url)
	if err != nil {
		return Page{}, fmt.Errorf("unable to get url: %w", err)
	}
	if !resp.IsSuccess() {
		return Page{}, &StatusError{URL: url, StatusCode: resp.StatusCode()}
	}

	return Page{
		URL:         url,
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
		FetchedAt:   time.Now(),
	}, nil
}

// Producer returns a cache producer fetching url.
func (c *Client) Producer(url string) cache.Producer[Page] {
	return func(ctx context.Context) (Page, error) {
		return c.Fetch(ctx, url)
	}
}

// ForURL returns a validator accepting only pages fetched from url, so a
// store written for another request is refetched.
func ForURL(url string) cache.Validator[Page] {
	return func(p Page) bool {
		return p.URL == url
	}
}
