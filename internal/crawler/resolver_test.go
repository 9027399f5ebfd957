package crawler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireCrawlInvariants(t *testing.T, origin string, links []string) {
	t.Helper()
	for _, link := range links {
		require.True(t, strings.HasPrefix(link, strings.ToLower(origin)), "%s should share origin %s", link, origin)
		require.NotContains(t, link, "#")
		require.Equal(t, strings.ToLower(link), link)
		require.False(t, strings.HasSuffix(link, "/"), "%s has trailing slash", link)
	}
}

func TestResolvePrefersSitemap(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/sitemap.xml": static("application/xml", urlset("{{base}}/Listings/", "{{base}}/about#team", "{{base}}/contact")),
		"/":            htmlPage("/never"),
	})

	r := newTestResolver(t, testConfig())
	res, err := r.Resolve(context.Background(), site.URL()+"/", "page")
	require.NoError(t, err)

	require.Equal(t, SourceSitemap, res.Source)
	require.Equal(t, site.URL()+"/sitemap.xml", res.SitemapURL)
	require.Equal(t, []string{
		site.URL() + "/listings",
		site.URL() + "/about",
		site.URL() + "/contact",
	}, res.Links)
	require.Zero(t, site.Hits("/"), "page crawl should not run when the sitemap has URLs")
	require.Zero(t, site.Hits("/sitemap-index.xml"), "probing stops at the first hit")
}

func TestResolveDiscoveryRequiresSitemapContentType(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/sitemap.xml": static("text/html", "<html>not a sitemap</html>"),
		"/sitemap.txt": static("text/plain; charset=utf-8", "{{base}}/a\n\n{{base}}/b\n"),
	})

	r := newTestResolver(t, testConfig())
	res, err := r.Resolve(context.Background(), site.URL(), "")
	require.NoError(t, err)
	require.Equal(t, site.URL()+"/sitemap.txt", res.SitemapURL)
	require.Equal(t, []string{site.URL() + "/a", site.URL() + "/b"}, res.Links)
}

func TestResolveSitemapIndexExpandsFirstFiveChildren(t *testing.T) {
	t.Parallel()

	routes := map[string]http.HandlerFunc{}
	children := make([]string, 0, 7)
	for i := 1; i <= 7; i++ {
		path := fmt.Sprintf("/child-%d.xml", i)
		children = append(children, "{{base}}"+path)
		routes[path] = static("application/xml", urlset(fmt.Sprintf("{{base}}/page-%d", i)))
	}
	routes["/sitemap.xml"] = static("application/xml", sitemapIndex(children...))
	site := newTestSite(t, routes)

	r := newTestResolver(t, testConfig())
	links, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.NoError(t, err)

	require.Len(t, links, 5)
	for i := 1; i <= 5; i++ {
		require.Equal(t, site.URL()+fmt.Sprintf("/page-%d", i), links[i-1])
	}
	require.Zero(t, site.Hits("/child-6.xml"))
	require.Zero(t, site.Hits("/child-7.xml"))
}

func TestResolveSitemapIndexSwallowsChildFailures(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/sitemap.xml": static("application/xml", sitemapIndex("{{base}}/broken.xml", "{{base}}/good.xml", "{{base}}/sitemap.xml")),
		"/broken.xml":  static("application/xml", "<urlset><url><loc>x</url>"),
		"/good.xml":    static("application/xml", urlset("{{base}}/ok")),
	})

	r := newTestResolver(t, testConfig())
	links, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.NoError(t, err)
	require.Equal(t, []string{site.URL() + "/ok"}, links)
	require.Equal(t, 1, site.Hits("/broken.xml"), "parse errors are not retried")
	require.Equal(t, 2, site.Hits("/sitemap.xml"), "one probe and one expansion; the self reference is skipped")
}

func TestResolveGzipSitemap(t *testing.T) {
	t.Parallel()

	var site *testSite
	site = newTestSite(t, map[string]http.HandlerFunc{
		"/sitemap.xml.gz": func(w http.ResponseWriter, _ *http.Request) {
			var buf bytes.Buffer
			gz := gzip.NewWriter(&buf)
			_, _ = gz.Write([]byte(urlset(site.URL()+"/zipped")))
			_ = gz.Close()
			w.Header().Set("Content-Type", "application/x-gzip")
			_, _ = w.Write(buf.Bytes())
		},
	})

	r := newTestResolver(t, testConfig())
	res, err := r.Resolve(context.Background(), site.URL(), "page")
	require.NoError(t, err)
	require.Equal(t, SourceSitemap, res.Source)
	require.Equal(t, []string{site.URL() + "/zipped"}, res.Links)
}

func TestResolveSitemapRespectsMaxLinks(t *testing.T) {
	t.Parallel()

	locs := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		locs = append(locs, fmt.Sprintf("{{base}}/item-%02d", i))
	}
	site := newTestSite(t, map[string]http.HandlerFunc{
		"/sitemap.xml": static("application/xml", urlset(locs...)),
	})

	cfg := testConfig()
	cfg.MaxLinks = 10
	r := newTestResolver(t, cfg)
	links, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.NoError(t, err)
	require.Len(t, links, 10)
	require.Equal(t, site.URL()+"/item-00", links[0])
	require.Equal(t, site.URL()+"/item-09", links[9])
}

func TestResolveFallsBackToCrawl(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/sitemap.xml": static("application/xml", urlset()),
		"/": htmlPage(
			"/About#team",
			"/about/",
			"/docs/guide.PDF",
			"/photo.jpeg",
			"https://other.example.com/x",
			"mailto:leasing@example.com",
			"/contact?x=1",
			"#top",
		),
		"/About": htmlPage("/team", "/"),
		"/team":  htmlPage(),
	})

	r := newTestResolver(t, testConfig())
	res, err := r.Resolve(context.Background(), site.URL()+"/", "page")
	require.NoError(t, err)

	require.Equal(t, SourceCrawl, res.Source)
	require.ElementsMatch(t, []string{
		site.URL(),
		site.URL() + "/about",
		site.URL() + "/contact?x=1",
		site.URL() + "/team",
	}, res.Links)
	requireCrawlInvariants(t, site.URL(), res.Links)
	require.Equal(t, 1, site.Hits("/About"), "links are fetched with their original case")
	require.Zero(t, site.Hits("/docs/guide.PDF"))
}

func TestCrawlStopsAtMaxDepth(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/":   htmlPage("/p1"),
		"/p1": htmlPage("/p2"),
		"/p2": htmlPage("/p3"),
		"/p3": htmlPage("/p4"),
	})

	cfg := testConfig()
	cfg.MaxDepth = 2
	r := newTestResolver(t, cfg)
	links, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.NoError(t, err)

	require.ElementsMatch(t, []string{site.URL(), site.URL() + "/p1", site.URL() + "/p2", site.URL() + "/p3"}, links)
	require.Equal(t, 1, site.Hits("/p2"))
	require.Zero(t, site.Hits("/p3"), "pages beyond max depth are never fetched")
}

func TestCrawlExpandsAtMostFanOutLinks(t *testing.T) {
	t.Parallel()

	routes := map[string]http.HandlerFunc{}
	hrefs := make([]string, 0, 8)
	for i := 1; i <= 8; i++ {
		path := fmt.Sprintf("/c%d", i)
		hrefs = append(hrefs, path)
		routes[path] = htmlPage()
	}
	routes["/"] = htmlPage(hrefs...)
	site := newTestSite(t, routes)

	r := newTestResolver(t, testConfig())
	links, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.NoError(t, err)

	require.Len(t, links, 9)
	for i := 1; i <= 5; i++ {
		require.Equal(t, 1, site.Hits(fmt.Sprintf("/c%d", i)))
	}
	for i := 6; i <= 8; i++ {
		require.Zero(t, site.Hits(fmt.Sprintf("/c%d", i)))
	}
}

func TestCrawlRespectsMaxLinks(t *testing.T) {
	t.Parallel()

	hrefs := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		hrefs = append(hrefs, fmt.Sprintf("/listing/%d", i))
	}
	site := newTestSite(t, map[string]http.HandlerFunc{
		"/": htmlPage(hrefs...),
	})

	cfg := testConfig()
	cfg.MaxLinks = 12
	r := newTestResolver(t, cfg)
	links, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.NoError(t, err)
	require.Len(t, links, 12)
	requireCrawlInvariants(t, site.URL(), links)
}

func TestResolveRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	site := newTestSite(t, map[string]http.HandlerFunc{
		"/": func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			htmlPage("/ok")(w, r)
		},
		"/ok": htmlPage(),
	})

	r := newTestResolver(t, testConfig())
	links, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{site.URL(), site.URL() + "/ok"}, links)
	require.Equal(t, 3, site.Hits("/"))
}

func TestResolveRetriesTimeouts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	site := newTestSite(t, map[string]http.HandlerFunc{
		"/": func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
				return
			}
			htmlPage()(w, r)
		},
	})

	cfg := testConfig()
	cfg.Timeout = 100 * time.Millisecond
	r := newTestResolver(t, cfg)
	links, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.NoError(t, err)
	require.Equal(t, []string{site.URL()}, links)
	require.Equal(t, 2, site.Hits("/"))
}

func TestResolveGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
	})

	cfg := testConfig()
	cfg.MaxRetries = 2
	r := newTestResolver(t, cfg)
	_, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransientFetch)
	require.Equal(t, 3, site.Hits("/"))
}

func TestResolveDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
	})

	r := newTestResolver(t, testConfig())
	_, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTransientFetch)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
	require.Equal(t, 1, site.Hits("/"))
	require.Equal(t, 1, site.Hits("/sitemap.xml"))
}

func TestResolvePartialFailureKeepsAccumulatedLinks(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/":     htmlPage("/good", "/bad"),
		"/good": htmlPage("/deeper"),
		"/bad": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	})

	cfg := testConfig()
	cfg.MaxRetries = 1
	r := newTestResolver(t, cfg)
	links, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{site.URL(), site.URL() + "/good", site.URL() + "/bad", site.URL() + "/deeper"}, links)
	require.Equal(t, 2, site.Hits("/bad"))
}

func TestResolveSitemapModeFallsBackToOriginCrawl(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/feeds/listings.xml": static("application/xml", urlset()),
		"/":                   htmlPage("/x"),
	})

	r := newTestResolver(t, testConfig())
	res, err := r.Resolve(context.Background(), site.URL()+"/feeds/listings.xml", "sitemap")
	require.NoError(t, err)
	require.Equal(t, ModeSitemap, res.Mode)
	require.Equal(t, SourceCrawl, res.Source)
	require.ElementsMatch(t, []string{site.URL(), site.URL() + "/x"}, res.Links)
	require.Zero(t, site.Hits("/sitemap.xml"), "sitemap mode skips discovery")
}

func TestResolveSitemapModeUsesSeedSitemap(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/feeds/listings.xml": static("application/rss+xml",
			`<rss version="2.0"><channel><item><link>{{base}}/unit/1</link></item><item><link>{{base}}/unit/2</link></item></channel></rss>`),
	})

	r := newTestResolver(t, testConfig())
	res, err := r.Resolve(context.Background(), site.URL()+"/feeds/listings.xml", "sitemap")
	require.NoError(t, err)
	require.Equal(t, SourceSitemap, res.Source)
	require.Equal(t, []string{site.URL() + "/unit/1", site.URL() + "/unit/2"}, res.Links)
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, testConfig())
	tests := []struct {
		name string
		seed string
		mode string
	}{
		{name: "empty seed", seed: "", mode: "page"},
		{name: "relative seed", seed: "/about", mode: "page"},
		{name: "non http scheme", seed: "ftp://example.com", mode: "page"},
		{name: "unknown mode", seed: "https://example.com", mode: "headless"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := r.Resolve(context.Background(), tt.seed, tt.mode)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestResolveRotatesConfiguredUserAgents(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/": htmlPage(),
	})

	r := newTestResolver(t, testConfig())
	_, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.NoError(t, err)
	for _, agent := range site.Agents() {
		require.Contains(t, []string{"agent-a", "agent-b"}, agent)
	}
}

func TestResolveHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/": htmlPage(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestResolver(t, testConfig())
	_, err := r.ResolveLinks(ctx, site.URL(), "page")
	require.ErrorIs(t, err, context.Canceled)
}

func TestResolveStampsAndArchives(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/sitemap.xml": static("application/xml", urlset("{{base}}/a")),
	})

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	blobs := &memoryBlobs{}
	r := newTestResolver(t, testConfig(),
		WithClock(fixedClock{t: now}),
		WithIDGenerator(&sequenceIDs{}),
		WithArchive(blobs, "resolutions"),
	)
	res, err := r.Resolve(context.Background(), site.URL(), "page")
	require.NoError(t, err)

	require.Equal(t, "res-1", res.ID)
	require.Equal(t, now, res.ResolvedAt)
	require.Equal(t, "memory://resolutions/2026/03/04/res-1.json", res.ArtifactURI)

	var stored Resolution
	require.NoError(t, json.Unmarshal(blobs.objects["resolutions/2026/03/04/res-1.json"], &stored))
	require.Equal(t, res.Links, stored.Links)
	require.Equal(t, SourceSitemap, stored.Source)
}

func TestResolveArchiveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/sitemap.xml": static("application/xml", urlset("{{base}}/a")),
	})

	r := newTestResolver(t, testConfig(), WithArchive(&memoryBlobs{err: errors.New("bucket gone")}, ""))
	res, err := r.Resolve(context.Background(), site.URL(), "page")
	require.NoError(t, err)
	require.Empty(t, res.ArtifactURI)
	require.Len(t, res.Links, 1)
}

func TestNewResolverValidates(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxLinks = 0
	_, err := NewResolver(cfg, httpStreamFetcher{}, httpPageFetcher{})
	require.Error(t, err)

	_, err = NewResolver(testConfig(), nil, httpPageFetcher{})
	require.Error(t, err)

	_, err = NewResolver(testConfig(), httpStreamFetcher{}, nil)
	require.Error(t, err)
}

func TestResolveSitemapModeReturnsNormalizedLocs(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/listings.xml": static("application/xml", urlset("{{base}}/Units/", "{{base}}/amenities", "{{base}}/apply#form")),
	})

	r := newTestResolver(t, testConfig())
	links, err := r.ResolveLinks(context.Background(), site.URL()+"/listings.xml", "sitemap")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		site.URL() + "/units",
		site.URL() + "/amenities",
		site.URL() + "/apply",
	}, links)
}

func TestResolveCollapsesFragmentDuplicates(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/sitemap.xml": static("application/xml", urlset("{{base}}/a", "{{base}}/a#section")),
	})

	r := newTestResolver(t, testConfig())
	links, err := r.ResolveLinks(context.Background(), site.URL(), "page")
	require.NoError(t, err)
	require.Equal(t, []string{site.URL() + "/a"}, links)
}
