package crawler

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	sitemapAccept = "application/xml, text/xml;q=0.9, application/x-gzip;q=0.8, text/plain;q=0.7, */*;q=0.5"
	// maxSitemapChildren caps how many children of one sitemap index are expanded.
	maxSitemapChildren = 5
)

type sitemapKind int

const (
	kindURLSet sitemapKind = iota
	kindIndex
)

// sitemapDoc is a parsed sitemap: either page locations or child sitemaps.
type sitemapDoc struct {
	kind sitemapKind
	locs []string
}

// isSitemapContentType reports whether a probe response looks like a sitemap.
func isSitemapContentType(contentType string) bool {
	ct := lower(contentType)
	return strings.Contains(ct, "xml") ||
		strings.Contains(ct, "text/plain") ||
		strings.Contains(ct, "application/x-gzip")
}

// discoverSitemap probes the configured paths against the seed origin in
// order and returns the first hit, or "" when none qualify.
func (r *Resolver) discoverSitemap(ctx context.Context, origin string) string {
	for _, p := range r.cfg.SitemapPaths {
		candidate := origin + "/" + strings.TrimLeft(p, "/")
		ok, err := r.probe(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return ""
			}
			r.logger.Debug("sitemap probe failed", zap.String("url", candidate), zap.Error(err))
			continue
		}
		if ok {
			return candidate
		}
	}
	return ""
}

func (r *Resolver) probe(ctx context.Context, candidate string) (bool, error) {
	var matched bool
	err := r.attempt(ctx, "probe", candidate, func(ctx context.Context, ua string) error {
		resp, err := r.streams.Fetch(ctx, FetchRequest{
			URL:       candidate,
			UserAgent: ua,
			Accept:    sitemapAccept,
			Timeout:   r.cfg.Timeout,
		})
		if err != nil {
			return asFetchError(candidate, err)
		}
		defer closeBody(resp.Body)
		if resp.StatusCode >= http.StatusInternalServerError {
			return StatusError(candidate, resp.StatusCode)
		}
		matched = resp.StatusCode == http.StatusOK && isSitemapContentType(resp.ContentType())
		return nil
	})
	return matched, err
}

// expandSitemap returns up to budget normalized page URLs reachable from
// sitemapURL. ancestors holds the index chain above this sitemap so cyclic
// indexes terminate.
func (r *Resolver) expandSitemap(ctx context.Context, sitemapURL string, budget int, ancestors []string) ([]string, error) {
	doc, err := r.fetchSitemap(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	set := newLinkSet(budget)
	if doc.kind == kindURLSet {
		for _, loc := range doc.locs {
			if set.Full() {
				break
			}
			if link, ok := pageLocation(loc); ok {
				set.Add(link)
			}
		}
		return set.Items(), nil
	}

	chain := append(append([]string(nil), ancestors...), sitemapURL)
	children := make([]string, 0, maxSitemapChildren)
	for _, loc := range doc.locs {
		if len(children) == maxSitemapChildren {
			break
		}
		if child, ok := childLocation(loc); ok && !slices.Contains(chain, child) {
			children = append(children, child)
		}
	}

	results := make([][]string, len(children))
	var g errgroup.Group
	for i, child := range children {
		g.Go(func() error {
			links, err := r.expandSitemap(ctx, child, budget, chain)
			if err != nil {
				r.logger.Warn("child sitemap failed",
					zap.String("parent", sitemapURL),
					zap.String("url", child),
					zap.Error(err),
				)
				return nil
			}
			results[i] = links
			return nil
		})
	}
	_ = g.Wait()

	for _, links := range results {
		set.Merge(links)
	}
	return set.Items(), nil
}

func (r *Resolver) fetchSitemap(ctx context.Context, target string) (sitemapDoc, error) {
	var doc sitemapDoc
	err := r.attempt(ctx, "sitemap", target, func(ctx context.Context, ua string) error {
		resp, err := r.streams.Fetch(ctx, FetchRequest{
			URL:       target,
			UserAgent: ua,
			Accept:    sitemapAccept,
			Timeout:   r.cfg.Timeout,
		})
		if err != nil {
			return asFetchError(target, err)
		}
		defer closeBody(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return StatusError(target, resp.StatusCode)
		}
		parsed, err := parseSitemap(resp.Body, target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return &FetchError{URL: target, Err: ctxErr}
			}
			return err
		}
		doc = parsed
		return nil
	})
	return doc, err
}

// parseSitemap reads a sitemap body. Gzip is detected from the magic bytes
// so it works whether or not the transport already decoded the body. Bodies
// that do not start with '<' are read as one URL per line.
func parseSitemap(body io.Reader, source string) (sitemapDoc, error) {
	br := bufio.NewReader(body)
	var reader io.Reader = br
	if magic, _ := br.Peek(2); len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return sitemapDoc{}, parseFailure(source, err)
		}
		defer gz.Close()
		reader = gz
	}

	content := bufio.NewReader(reader)
	if !looksLikeXML(content) {
		locs, err := parseTextSitemap(content)
		if err != nil {
			return sitemapDoc{}, parseFailure(source, err)
		}
		return sitemapDoc{kind: kindURLSet, locs: locs}, nil
	}

	root, err := xmlquery.Parse(content)
	if err != nil {
		return sitemapDoc{}, parseFailure(source, err)
	}
	return readSitemapTree(root, source)
}

func readSitemapTree(doc *xmlquery.Node, source string) (sitemapDoc, error) {
	root := firstElement(doc)
	if root == nil {
		return sitemapDoc{}, parseFailure(source, errors.New("no root element"))
	}

	switch lower(root.Data) {
	case "sitemapindex":
		return sitemapDoc{kind: kindIndex, locs: nestedTexts(root, "sitemap", "loc")}, nil
	case "urlset":
		return sitemapDoc{kind: kindURLSet, locs: nestedTexts(root, "url", "loc")}, nil
	case "rss":
		var locs []string
		for _, channel := range childElements(root, "channel") {
			locs = append(locs, nestedTexts(channel, "item", "link")...)
		}
		return sitemapDoc{kind: kindURLSet, locs: locs}, nil
	case "feed":
		var locs []string
		for _, entry := range childElements(root, "entry") {
			for _, link := range childElements(entry, "link") {
				rel := lower(strings.TrimSpace(link.SelectAttr("rel")))
				if rel != "" && rel != "alternate" {
					continue
				}
				if href := link.SelectAttr("href"); href != "" {
					locs = append(locs, href)
				}
			}
		}
		return sitemapDoc{kind: kindURLSet, locs: locs}, nil
	default:
		return sitemapDoc{}, parseFailure(source, fmt.Errorf("unsupported root element <%s>", root.Data))
	}
}

func parseTextSitemap(r io.Reader) ([]string, error) {
	var locs []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		locs = append(locs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return locs, nil
}

// looksLikeXML peeks past leading whitespace and a UTF-8 BOM.
func looksLikeXML(br *bufio.Reader) bool {
	head, _ := br.Peek(512)
	s := strings.TrimPrefix(string(head), "\ufeff")
	s = strings.TrimLeft(s, " \t\r\n")
	return strings.HasPrefix(s, "<")
}

func firstElement(n *xmlquery.Node) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}

func childElements(n *xmlquery.Node, name string) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && lower(c.Data) == name {
			out = append(out, c)
		}
	}
	return out
}

// nestedTexts returns the text of every parent>child element pair under n.
func nestedTexts(n *xmlquery.Node, parent, child string) []string {
	var out []string
	for _, p := range childElements(n, parent) {
		for _, c := range childElements(p, child) {
			if text := strings.TrimSpace(c.InnerText()); text != "" {
				out = append(out, text)
			}
		}
	}
	return out
}

// pageLocation normalizes a urlset entry, keeping only absolute http(s) URLs.
func pageLocation(loc string) (string, bool) {
	if _, ok := childLocation(loc); !ok {
		return "", false
	}
	link, err := NormalizeURL(loc)
	if err != nil {
		return "", false
	}
	return link, true
}

// childLocation validates a sitemap index entry without altering its case.
func childLocation(loc string) (string, bool) {
	u, err := ParseSeed(loc)
	if err != nil {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), true
}
