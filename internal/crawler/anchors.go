package crawler

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// ExtractAnchors returns the absolute http(s) targets of every a[href] under
// sel, resolved against base (or the document's <base href> when present).
// Fragment-only links are skipped.
func ExtractAnchors(sel *goquery.Selection, base *url.URL) []string {
	if sel == nil || base == nil {
		return nil
	}
	if href, ok := sel.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := base.Parse(href); err == nil {
			base = resolved
		}
	}
	var out []string
	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if abs, ok := resolveReference(base, href); ok {
			out = append(out, abs)
		}
	})
	return out
}
