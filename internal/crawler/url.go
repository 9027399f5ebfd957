package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL strips the fragment, lowercases the URL and trims trailing
// slashes. The rule is idempotent: NormalizeURL(NormalizeURL(u)) == NormalizeURL(u).
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return strings.TrimRight(lower(u.String()), "/"), nil
}

// ParseSeed validates that raw is an absolute http(s) URL.
func ParseSeed(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalidInput("seed url is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, invalidInput("seed url %q: %v", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, invalidInput("seed url %q must be absolute", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, invalidInput("seed url %q must use http or https", raw)
	}
	return u, nil
}

// Origin returns scheme://host[:port] in lowercase.
func Origin(u *url.URL) string {
	return lower(u.Scheme) + "://" + lower(u.Host)
}

// sameOrigin reports whether candidate shares scheme, host and port with origin.
// https://example.com.evil.test does not match https://example.com.
func sameOrigin(origin string, candidate string) bool {
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return false
	}
	return Origin(u) == origin
}

var rootRef = &url.URL{Path: "/"}

func resolveReference(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}

func lower(s string) string {
	return strings.ToLower(s)
}
