package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// testSite is an httptest server that counts hits per path and records the
// user agents it saw. Unknown paths return 404.
type testSite struct {
	srv    *httptest.Server
	mu     sync.Mutex
	hits   map[string]int
	agents map[string]int
}

func newTestSite(t *testing.T, routes map[string]http.HandlerFunc) *testSite {
	t.Helper()
	s := &testSite{hits: make(map[string]int), agents: make(map[string]int)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.agents[r.UserAgent()]++
		s.mu.Unlock()
		if h, ok := routes[r.URL.Path]; ok {
			h(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *testSite) URL() string { return s.srv.URL }

func (s *testSite) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *testSite) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.agents))
	for a := range s.agents {
		out = append(out, a)
	}
	return out
}

// static serves body with {{base}} replaced by the server origin.
func static(contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, strings.ReplaceAll(body, "{{base}}", "http://"+r.Host))
	}
}

func htmlPage(hrefs ...string) http.HandlerFunc {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, h)
	}
	b.WriteString("</body></html>")
	return static("text/html; charset=utf-8", b.String())
}

func urlset(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, l := range locs {
		fmt.Fprintf(&b, "<url><loc>%s</loc></url>", l)
	}
	b.WriteString("</urlset>")
	return b.String()
}

func sitemapIndex(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, l := range locs {
		fmt.Fprintf(&b, "<sitemap><loc>%s</loc></sitemap>", l)
	}
	b.WriteString("</sitemapindex>")
	return b.String()
}

// httpStreamFetcher is a minimal StreamFetcher over net/http.
type httpStreamFetcher struct {
	client *http.Client
}

func (f httpStreamFetcher) Fetch(ctx context.Context, req FetchRequest) (*StreamResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", req.UserAgent)
	httpReq.Header.Set("Accept", req.Accept)
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	return &StreamResponse{URL: req.URL, StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// httpPageFetcher is a minimal PageFetcher over net/http and goquery.
type httpPageFetcher struct {
	client *http.Client
}

func (f httpPageFetcher) FetchLinks(ctx context.Context, req FetchRequest) (PageLinks, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return PageLinks{}, err
	}
	httpReq.Header.Set("User-Agent", req.UserAgent)
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return PageLinks{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return PageLinks{URL: req.URL, StatusCode: resp.StatusCode}, StatusError(req.URL, resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return PageLinks{}, err
	}
	base, err := url.Parse(req.URL)
	if err != nil {
		return PageLinks{}, err
	}
	return PageLinks{URL: req.URL, StatusCode: resp.StatusCode, Links: ExtractAnchors(doc.Selection, base)}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.UserAgents = []string{"agent-a", "agent-b"}
	return cfg
}

func newTestResolver(t *testing.T, cfg Config, opts ...Option) *Resolver {
	t.Helper()
	client := &http.Client{}
	base := []Option{WithRetryPolicy(NewExponentialRetryPolicy(cfg.MaxRetries, 0, 0))}
	r, err := NewResolver(cfg, httpStreamFetcher{client: client}, httpPageFetcher{client: client}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("res-%d", g.n), nil
}

type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memoryBlobs) PutObject(_ context.Context, path, _ string, r io.Reader) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[path] = buf.Bytes()
	return "memory://" + path, nil
}
