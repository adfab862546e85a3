package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrNoState reports that every resolution strategy came up empty. The
// protocol fails closed rather than guessing a transaction identifier.
var ErrNoState = errors.New("oauth state could not be resolved")

// Provenance records which strategy produced the transaction state.
type Provenance string

const (
	ProvenanceRedirectedQuery Provenance = "redirected-query"
	ProvenanceQuery           Provenance = "query"
	ProvenancePathHeuristic   Provenance = "path-heuristic"
	ProvenancePageContent     Provenance = "page-content"
	ProvenanceAPIDerived      Provenance = "api-derived"
)

// contentStatePattern matches a state assignment in rendered page content,
// e.g. `state=abc`, `"state": "abc"`.
var contentStatePattern = regexp.MustCompile(`(?i)state["']?\s*[=:]\s*["']?([A-Za-z0-9._~-]{8,})`)

// resolveContext carries everything a strategy may consult. Strategies are
// pure relative to it: each returns a state or "" for a miss.
type resolveContext struct {
	// currentURL is the browser's location after navigation and any
	// redirects.
	currentURL string

	// originalURL is the candidate URL captured from the CLI.
	originalURL string

	// content lazily reads the rendered page.
	content func(ctx context.Context) (string, error)

	// api re-derives a fresh state as the final fallback.
	api API

	// uiBase is the configured UI origin, used as return_to when the
	// original URL carries no redirect_uri.
	uiBase string
}

type strategy struct {
	provenance Provenance
	resolve    func(ctx context.Context, rc *resolveContext) (string, error)
}

// strategies is the ordered fallback chain. First non-empty result wins;
// adding or removing one is a one-line change here.
var strategies = []strategy{
	{ProvenanceRedirectedQuery, func(_ context.Context, rc *resolveContext) (string, error) {
		return queryState(rc.currentURL), nil
	}},
	{ProvenanceQuery, func(_ context.Context, rc *resolveContext) (string, error) {
		return queryState(rc.originalURL), nil
	}},
	{ProvenancePathHeuristic, func(_ context.Context, rc *resolveContext) (string, error) {
		return pathSegmentState(rc.currentURL), nil
	}},
	{ProvenancePageContent, func(ctx context.Context, rc *resolveContext) (string, error) {
		if rc.content == nil {
			return "", nil
		}
		html, err := rc.content(ctx)
		if err != nil {
			return "", fmt.Errorf("read page content: %w", err)
		}
		if m := contentStatePattern.FindStringSubmatch(html); len(m) > 1 {
			return m[1], nil
		}
		return "", nil
	}},
	{ProvenanceAPIDerived, func(ctx context.Context, rc *resolveContext) (string, error) {
		if rc.api == nil {
			return "", nil
		}
		returnTo := queryParam(rc.originalURL, "redirect_uri")
		if returnTo == "" {
			returnTo = rc.uiBase
		}
		return rc.api.ReauthorizeState(ctx, returnTo)
	}},
}

// queryState extracts the state query parameter, tolerating URLs mangled
// enough that net/url refuses them.
func queryState(raw string) string {
	return queryParam(raw, "state")
}

func queryParam(raw, key string) string {
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil {
		if v := u.Query().Get(key); v != "" {
			return v
		}
	}
	// Truncated URLs often fail to parse; fall back to a textual scan.
	marker := key + "="
	if i := strings.Index(raw, marker); i >= 0 {
		rest := raw[i+len(marker):]
		if j := strings.IndexAny(rest, "&# "); j >= 0 {
			rest = rest[:j]
		}
		if v, err := url.QueryUnescape(rest); err == nil {
			return v
		}
		return rest
	}
	return ""
}

// pathSegmentState scans /-delimited path segments for one long enough to
// be an embedded transaction identifier: over 20 characters with a hyphen,
// or over 30 characters outright. A guess-based last resort; the resolver
// logs when it is the strategy that wins.
func pathSegmentState(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if len(seg) > 20 && strings.Contains(seg, "-") {
			return seg
		}
		if len(seg) > 30 {
			return seg
		}
	}
	return ""
}

// looksMoreComplete reports whether a landed URL is a better basis for a
// second protocol attempt than the captured one: it carries the state
// parameter or a long identifier-like path segment.
func looksMoreComplete(raw string) bool {
	return strings.Contains(raw, "state=") || pathSegmentState(raw) != ""
}
