// Package oauthurl captures authorization URLs from child process output
// and reassembles them when the launching platform truncated the URL.
//
// Browser-launch stubs print the URL in different shapes depending on the
// platform and shell (a tagged marker for Windows batch echo, a
// human-readable wrapper elsewhere), so extraction is format-tolerant: a
// fixed priority order of textual patterns, first match wins.
package oauthurl

import (
	"regexp"
	"strings"
)

// StubMarker tags a line whose remainder is the raw URL with no
// whitespace-delimited boundary.
const StubMarker = "[BROWSER-STUB-URL]"

// wouldOpenPrefix is the human-readable stub wrapper.
const wouldOpenPrefix = "Would open:"

// stateParam marks an authorization URL as complete: the OAuth transaction
// identifier made it through the argument-passing boundary intact.
const stateParam = "state="

// urlToken matches a bare https token. Closing parens are excluded so URLs
// printed inside parentheses extract cleanly.
var urlToken = regexp.MustCompile(`https?://[^\s)]+`)

// Candidate is a string believed to be (part of) an authorization URL.
type Candidate struct {
	// Raw is the captured text, possibly truncated.
	Raw string
}

// HasState reports whether the URL carries the OAuth state parameter.
// Once true, no completion attempt touches the candidate again.
func (c Candidate) HasState() bool {
	return strings.Contains(c.Raw, stateParam)
}

// Extract parses one output line into a candidate authorization URL.
// authHost is the known authorization host; a URL on that host is preferred
// over an arbitrary https token. Returns false when the line holds no URL.
func Extract(line, authHost string) (Candidate, bool) {
	// Tagged marker: everything after the tag is the URL, verbatim.
	if i := strings.Index(line, StubMarker); i >= 0 {
		raw := strings.TrimSpace(line[i+len(StubMarker):])
		if raw != "" {
			return Candidate{Raw: raw}, true
		}
	}

	// Human-readable stub wrapper.
	if i := strings.Index(line, wouldOpenPrefix); i >= 0 {
		rest := strings.TrimSpace(line[i+len(wouldOpenPrefix):])
		if m := urlToken.FindString(rest); m != "" {
			return Candidate{Raw: m}, true
		}
	}

	matches := urlToken.FindAllString(line, -1)

	// URL on the authorization host.
	if authHost != "" {
		for _, m := range matches {
			if strings.Contains(m, authHost) {
				return Candidate{Raw: m}, true
			}
		}
	}

	// Any https token, last resort.
	for _, m := range matches {
		if strings.HasPrefix(m, "https://") {
			return Candidate{Raw: m}, true
		}
	}

	return Candidate{}, false
}
