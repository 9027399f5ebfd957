package crawler

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const htmlAccept = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"

// crawl walks same-origin anchors breadth first from start. Each level is
// fetched concurrently; results are merged in frontier order so the visited
// set never exceeds MaxLinks. A failure on the start page is returned, other
// page failures are logged.
func (r *Resolver) crawl(ctx context.Context, start *url.URL) ([]string, error) {
	origin := Origin(start)
	visited := newLinkSet(r.cfg.MaxLinks)

	startURL := withoutFragment(start)
	key, err := NormalizeURL(startURL)
	if err != nil {
		return nil, invalidInput("seed url %q: %v", startURL, err)
	}
	visited.Add(key)

	frontier := []CrawlTask{{URL: startURL, Depth: 0}}
	for len(frontier) > 0 && !visited.Full() {
		if err := ctx.Err(); err != nil {
			return visited.Items(), fmt.Errorf("crawl %s: %w", startURL, err)
		}

		found, errs := r.fetchLevel(ctx, frontier)

		var next []CrawlTask
		for i, task := range frontier {
			if errs[i] != nil {
				if task.Depth == 0 {
					return nil, fmt.Errorf("crawl %s: %w", startURL, errs[i])
				}
				r.logger.Warn("page fetch failed", zap.String("url", task.URL), zap.Int("depth", task.Depth), zap.Error(errs[i]))
				continue
			}
			fresh := r.admit(origin, found[i], visited)
			if task.Depth >= r.cfg.MaxDepth {
				continue
			}
			for _, link := range fresh[:min(len(fresh), r.cfg.FanOut)] {
				next = append(next, CrawlTask{URL: link, Depth: task.Depth + 1})
			}
		}
		frontier = next
	}
	return visited.Items(), nil
}

// fetchLevel fetches every task in frontier with at most Concurrency in
// flight. Branches write only to their own slot.
func (r *Resolver) fetchLevel(ctx context.Context, frontier []CrawlTask) ([][]string, []error) {
	links := make([][]string, len(frontier))
	errs := make([]error, len(frontier))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, task := range frontier {
		g.Go(func() error {
			links[i], errs[i] = r.fetchPage(ctx, task.URL)
			return nil
		})
	}
	_ = g.Wait()
	return links, errs
}

func (r *Resolver) fetchPage(ctx context.Context, target string) ([]string, error) {
	var links []string
	err := r.attempt(ctx, "page", target, func(ctx context.Context, ua string) error {
		page, err := r.pages.FetchLinks(ctx, FetchRequest{
			URL:       target,
			UserAgent: ua,
			Accept:    htmlAccept,
			Timeout:   r.cfg.Timeout,
		})
		if err != nil {
			return asFetchError(target, err)
		}
		links = page.Links
		return nil
	})
	return links, err
}

// admit records in-scope links in visited and returns the new ones in
// discovery order, fragment stripped but otherwise as found.
func (r *Resolver) admit(origin string, links []string, visited *linkSet) []string {
	var fresh []string
	for _, link := range links {
		if visited.Full() {
			break
		}
		if !sameOrigin(origin, link) || r.blocked.IsBlocked(link) {
			continue
		}
		key, err := NormalizeURL(link)
		if err != nil {
			continue
		}
		if visited.Add(key) {
			if u, err := url.Parse(link); err == nil {
				fresh = append(fresh, withoutFragment(u))
			}
		}
	}
	return fresh
}

func withoutFragment(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	clone.RawFragment = ""
	return clone.String()
}
