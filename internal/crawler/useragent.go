package crawler

import (
	"math/rand/v2"
	"strings"
)

const fallbackUserAgent = "propsrc-link-resolver/1.0"

// userAgentPool rotates through a fixed set of user agent strings.
type userAgentPool struct {
	agents []string
	pick   func(n int) int
}

func newUserAgentPool(agents []string) *userAgentPool {
	cleaned := make([]string, 0, len(agents))
	for _, a := range agents {
		if a = strings.TrimSpace(a); a != "" {
			cleaned = append(cleaned, a)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{fallbackUserAgent}
	}
	return &userAgentPool{agents: cleaned, pick: rand.IntN}
}

// Next returns a pseudo-randomly chosen agent.
func (p *userAgentPool) Next() string {
	if len(p.agents) == 1 {
		return p.agents[0]
	}
	return p.agents[p.pick(len(p.agents))]
}
