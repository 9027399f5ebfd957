// Package collyfetcher implements crawler.PageFetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/propsrc/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBodySize  int
}

// Fetcher implements crawler.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	opts := []colly.CollectorOption{colly.Async(false), colly.AllowURLRevisit()}
	if cfg.MaxBodySize > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodySize))
	}
	c := colly.NewCollector(opts...)
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(redirectLimit(cfg.MaxRedirects))

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// FetchLinks visits request.URL and returns the absolute targets of its anchors.
// Non-HTML responses yield no links. Error statuses come back as *crawler.FetchError.
func (f *Fetcher) FetchLinks(ctx context.Context, request crawler.FetchRequest) (crawler.PageLinks, error) {
	var (
		result   crawler.PageLinks
		fetchErr error
	)
	collector := f.buildCollector(request)
	f.configureCollectorHooks(collector, request, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &result, &fetchErr); err != nil {
		return crawler.PageLinks{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(request crawler.FetchRequest) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	if request.UserAgent != "" {
		collector.UserAgent = request.UserAgent
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	result *crawler.PageLinks,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if request.Accept != "" {
			r.Headers.Set("Accept", request.Accept)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.URL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
	})

	hooks.OnHTML("html", func(e *colly.HTMLElement) {
		result.Links = append(result.Links, crawler.ExtractAnchors(e.DOM, e.Request.URL)...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	result *crawler.PageLinks,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &crawler.FetchError{URL: url, Err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if err == nil {
			err = *fetchErr
		}
		if err == nil {
			return nil
		}
		status := result.StatusCode
		switch {
		case status >= http.StatusMultipleChoices:
			return crawler.StatusError(url, status)
		case status >= http.StatusOK:
			// colly reports 203 and 204 as errors; they simply carry no links.
			return nil
		default:
			return &crawler.FetchError{URL: url, Err: fmt.Errorf("colly visit failed: %w", err)}
		}
	}
}

func redirectLimit(limit int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= limit {
			return fmt.Errorf("stopped after %d redirects", limit)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
