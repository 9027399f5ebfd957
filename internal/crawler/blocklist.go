package crawler

import (
	"net/url"
	"path"
	"strings"
)

// extensionBlocklist rejects links whose path ends in a binary file extension.
type extensionBlocklist struct {
	exts map[string]struct{}
}

func newExtensionBlocklist(exts []string) *extensionBlocklist {
	b := &extensionBlocklist{exts: make(map[string]struct{}, len(exts))}
	for _, raw := range exts {
		ext := strings.TrimPrefix(strings.TrimSpace(lower(raw)), ".")
		if ext != "" {
			b.exts[ext] = struct{}{}
		}
	}
	return b
}

// IsBlocked reports whether rawURL points at a blocked file type.
func (b *extensionBlocklist) IsBlocked(rawURL string) bool {
	if b == nil || len(b.exts) == 0 {
		return false
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.TrimPrefix(path.Ext(lower(p)), ".")
	if ext == "" {
		return false
	}
	_, blocked := b.exts[ext]
	return blocked
}
