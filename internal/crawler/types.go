package crawler

import (
	"io"
	"net/http"
	"time"
)

// Mode selects how the seed URL is interpreted.
type Mode string

// Resolution modes accepted by Resolve.
const (
	ModePage    Mode = "page"
	ModeSitemap Mode = "sitemap"
)

// ParseMode validates a mode string. An empty string means ModePage.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "", ModePage:
		return ModePage, nil
	case ModeSitemap:
		return ModeSitemap, nil
	default:
		return "", invalidInput("unknown mode %q", raw)
	}
}

// Source names which strategy produced a resolution's links.
type Source string

// Link sources recorded on a Resolution.
const (
	SourceSitemap Source = "sitemap"
	SourceCrawl   Source = "crawl"
	SourceNone    Source = "none"
)

// Resolution is the outcome of one Resolve call.
type Resolution struct {
	ID          string    `json:"id"`
	Seed        string    `json:"seed"`
	Mode        Mode      `json:"mode"`
	Source      Source    `json:"source"`
	SitemapURL  string    `json:"sitemap_url,omitempty"`
	Links       []string  `json:"links"`
	ResolvedAt  time.Time `json:"resolved_at"`
	ArtifactURI string    `json:"artifact_uri,omitempty"`
}

// CrawlTask is one page scheduled for link expansion.
type CrawlTask struct {
	URL   string
	Depth int
}

// FetchRequest captures everything needed for one fetch attempt.
type FetchRequest struct {
	URL       string
	UserAgent string
	Accept    string
	Timeout   time.Duration
}

// StreamResponse is a fetched response whose body has not been read yet.
// Callers must close Body.
type StreamResponse struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ContentType returns the lowercased Content-Type header.
func (r *StreamResponse) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return lower(r.Header.Get("Content-Type"))
}

// PageLinks is the anchor set extracted from one HTML page.
type PageLinks struct {
	URL        string
	StatusCode int
	Links      []string
}
