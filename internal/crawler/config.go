package crawler

import (
	"fmt"
	"time"
)

// Config bounds a resolution run.
type Config struct {
	MaxDepth          int
	MaxLinks          int
	FanOut            int
	Concurrency       int
	Timeout           time.Duration
	MaxRetries        int
	SitemapPaths      []string
	BlockedExtensions []string
	UserAgents        []string
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxDepth:    3,
		MaxLinks:    1000,
		FanOut:      5,
		Concurrency: 8,
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		SitemapPaths: []string{
			"/sitemap.xml",
			"/sitemap-index.xml",
			"/sitemap.php",
			"/sitemap.txt",
			"/sitemap.xml.gz",
			"/sitemap/",
			"/sitemap/sitemap.xml",
			"/sitemapindex.xml",
			"/sitemap/index.xml",
			"/sitemap1.xml",
			"/rss/",
			"/rss.xml",
			"/atom.xml",
			"/sitemap_index.xml",
		},
		BlockedExtensions: []string{"pdf", "jpg", "jpeg", "png", "gif"},
	}
}

// Validate checks for obviously bad limits.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0")
	}
	if c.MaxLinks <= 0 {
		return fmt.Errorf("max links must be > 0")
	}
	if c.FanOut <= 0 {
		return fmt.Errorf("fan out must be > 0")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0")
	}
	return nil
}
