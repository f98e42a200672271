package expander

import (
	"strings"
	"sync/atomic"
)

// Map link shorteners answer non-browser clients with a consent or preview
// page instead of the redirect, so every outbound hop identifies as Chrome.
var browserUserAgents = userAgentPicker{agents: []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5_0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.846.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.846.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.846.0 Safari/537.36",
}}

// userAgentPicker rotates through agents so consecutive hops do not share a
// fingerprint.
type userAgentPicker struct {
	agents []string
	next   atomic.Uint32
}

func (picker *userAgentPicker) pick() string {
	if len(picker.agents) == 0 {
		return ""
	}
	position := picker.next.Add(1) - 1
	return picker.agents[int(position%uint32(len(picker.agents)))]
}

// BrowserUserAgent returns configured when it is set and otherwise the next
// built-in Chrome user agent.
func BrowserUserAgent(configured string) string {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		return trimmed
	}
	return browserUserAgents.pick()
}
