package crawler

// linkSet is an insertion-ordered set capped at limit entries. It is owned by
// a single coordinator goroutine and is not safe for concurrent use.
type linkSet struct {
	limit int
	seen  map[string]struct{}
	order []string
}

func newLinkSet(limit int) *linkSet {
	return &linkSet{limit: limit, seen: make(map[string]struct{})}
}

// Add inserts link and reports whether it was new and fit under the cap.
func (s *linkSet) Add(link string) bool {
	if link == "" || s.Full() {
		return false
	}
	if _, ok := s.seen[link]; ok {
		return false
	}
	s.seen[link] = struct{}{}
	s.order = append(s.order, link)
	return true
}

// Merge adds every link until the set fills up.
func (s *linkSet) Merge(links []string) {
	for _, link := range links {
		if s.Full() {
			return
		}
		s.Add(link)
	}
}

func (s *linkSet) Has(link string) bool {
	_, ok := s.seen[link]
	return ok
}

func (s *linkSet) Full() bool {
	return len(s.order) >= s.limit
}

func (s *linkSet) Len() int {
	return len(s.order)
}

// Items returns a copy of the members in insertion order.
func (s *linkSet) Items() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
