package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/propsrc/internal/crawler"
)

func TestFetchLinksExtractsAnchors(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		agent  string
		accept string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agent = r.UserAgent()
		accept = r.Header.Get("Accept")
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><a href="/units">units</a><a href="https://other.example.com/x">x</a><a href="#top">top</a></body></html>`)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second})
	page, err := f.FetchLinks(context.Background(), crawler.FetchRequest{
		URL:       srv.URL + "/",
		UserAgent: "propsrc-test",
		Accept:    "text/html",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, []string{srv.URL + "/units", "https://other.example.com/x"}, page.Links)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "propsrc-test", agent)
	require.Equal(t, "text/html", accept)
}

func TestFetchLinksRevisitsSameURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/a">a</a></body></html>`)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second})
	for i := 0; i < 2; i++ {
		page, err := f.FetchLinks(context.Background(), crawler.FetchRequest{URL: srv.URL})
		require.NoError(t, err)
		require.Len(t, page.Links, 1)
	}
}

func TestFetchLinksNonHTMLHasNoLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"href":"/a"}`)
	}))
	t.Cleanup(srv.Close)

	page, err := New(Config{Timeout: time.Second}).FetchLinks(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Empty(t, page.Links)
}

func TestFetchLinksStatusErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		transient bool
	}{
		{status: http.StatusNotFound, transient: false},
		{status: http.StatusTooManyRequests, transient: false},
		{status: http.StatusServiceUnavailable, transient: true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(srv.Close)

			_, err := New(Config{Timeout: time.Second}).FetchLinks(context.Background(), crawler.FetchRequest{URL: srv.URL})
			require.Error(t, err)

			var fetchErr *crawler.FetchError
			require.True(t, errors.As(err, &fetchErr))
			require.Equal(t, tt.status, fetchErr.StatusCode)
			require.Equal(t, tt.transient, errors.Is(err, crawler.ErrTransientFetch))
		})
	}
}

func TestFetchLinksCapsRedirects(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n int
		_, _ = fmt.Sscanf(r.URL.Path, "/hop/%d", &n)
		http.Redirect(w, r, fmt.Sprintf("%s/hop/%d", srv.URL, n+1), http.StatusFound)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{Timeout: time.Second, MaxRedirects: 5}).FetchLinks(context.Background(), crawler.FetchRequest{URL: srv.URL + "/hop/0"})
	require.Error(t, err)
	require.False(t, errors.Is(err, crawler.ErrTransientFetch))
}

func TestFetchLinksHonorsContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 3 * time.Second}).FetchLinks(ctx, crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.True(t, errors.Is(err, crawler.ErrTransientFetch))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.FetchRequest{URL: "https://example.com", Accept: "text/html"}
	var result crawler.PageLinks
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onHTML)
	require.NotNil(t, hooks.onError)
	require.Equal(t, "html", hooks.selector)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "text/html", collyReq.Headers.Get("Accept"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, "https://example.com/final", result.URL)
	require.Equal(t, http.StatusOK, result.StatusCode)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
	require.Equal(t, http.StatusBadGateway, result.StatusCode)
}

func TestBuildCollectorAppliesUserAgent(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collector := f.buildCollector(crawler.FetchRequest{UserAgent: "agent-x"})
	require.Equal(t, "agent-x", collector.UserAgent)
	require.True(t, collector.AllowURLRevisit)
	require.True(t, collector.IgnoreRobotsTxt)
}

func TestRedirectLimit(t *testing.T) {
	t.Parallel()

	check := redirectLimit(2)
	require.NoError(t, check(nil, make([]*http.Request, 1)))
	require.Error(t, check(nil, make([]*http.Request, 2)))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onHTML     colly.HTMLCallback
	selector   string
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnHTML(selector string, cb colly.HTMLCallback) {
	s.selector = selector
	s.onHTML = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
