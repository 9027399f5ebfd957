// Package stream implements crawler.StreamFetcher over net/http. Bodies are
// handed back unread so sitemaps can be decoded as they arrive.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/propsrc/internal/crawler"
)

// ErrTooManyRedirects is returned when the redirect hop limit is exceeded.
var ErrTooManyRedirects = errors.New("too many redirects")

// Config controls the underlying HTTP client.
type Config struct {
	MaxRedirects int
	Transport    http.RoundTripper
}

// Fetcher issues streaming GET requests.
type Fetcher struct {
	client *http.Client
}

// New builds a Fetcher. Request timeouts come from the caller's context.
func New(cfg Config) *Fetcher {
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	return &Fetcher{
		client: &http.Client{
			Transport:     transport,
			CheckRedirect: RedirectPolicy(cfg.MaxRedirects),
		},
	}
}

// RedirectPolicy stops following redirects once maxHops have been taken.
func RedirectPolicy(maxHops int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxHops {
			return ErrTooManyRedirects
		}
		return nil
	}
}

// Fetch performs a GET. The caller owns Body. When req.Timeout is set the
// request is bounded by it in addition to ctx.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (*crawler.StreamResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	}

	client := f.client
	if req.Timeout > 0 {
		clone := *f.client
		clone.Timeout = req.Timeout
		client = &clone
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &crawler.FetchError{URL: req.URL, Err: err}
	}
	return &crawler.StreamResponse{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
