// Package crawler resolves a seed URL into a bounded, deduplicated set of
// in-scope page URLs. Sitemaps are preferred; when none yields URLs the
// resolver falls back to a bounded same-origin crawl of anchor links.
package crawler
