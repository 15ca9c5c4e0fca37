package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "paperdrop/1.0 (+https://github.com/Lllllllleong/paperdrop)"
	maxPageBytes     = 4 << 20
)

// HTMLFetcher downloads a landing page so its metadata can be scraped.
type HTMLFetcher interface {
	Get(ctx context.Context, url string) (string, error)
}

type HTTPFetcherConfig struct {
	// Interval is the minimum spacing between requests.
	Interval  time.Duration
	UserAgent string
	Timeout   time.Duration
}

// DefaultHTTPFetcherConfig follows arXiv's crawl guidance of one request
// every three seconds.
func DefaultHTTPFetcherConfig() HTTPFetcherConfig {
	return HTTPFetcherConfig{
		Interval:  3 * time.Second,
		UserAgent: defaultUserAgent,
		Timeout:   30 * time.Second,
	}
}

// HTTPFetcher is a rate limited HTMLFetcher. One instance is shared by every
// provider in the process so the limit is global.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	config  HTTPFetcherConfig
	log     *zap.Logger
}

func NewHTTPFetcher(client *http.Client, config HTTPFetcherConfig, log *zap.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	limit := rate.Inf
	if config.Interval > 0 {
		limit = rate.Every(config.Interval)
	}
	return &HTTPFetcher{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		config:  config,
		log:     log,
	}
}

func (f *HTTPFetcher) Get(ctx context.Context, url string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	f.log.Debug("fetching page", zap.String("url", url))
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: unexpected status %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body of %s: %w", url, err)
	}
	return string(body), nil
}
