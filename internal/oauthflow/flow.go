// Package oauthflow completes an OAuth login transaction out-of-band: the
// CLI under test waits on its callback port while this protocol drives a
// browser page to the captured authorization URL, resolves the transaction
// state through an ordered fallback chain, authenticates via the backend
// password endpoint, and follows the returned redirect.
package oauthflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anaconda/anaconda-cli-testing/internal/backend"
	"github.com/anaconda/anaconda-cli-testing/internal/oauthurl"
)

// Page is the browser capability the protocol consumes.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	NavigateEager(ctx context.Context, url string, timeout time.Duration) error
	WaitIdle(ctx context.Context, timeout time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
}

// API is the backend capability the protocol consumes.
type API interface {
	ReauthorizeState(ctx context.Context, returnTo string) (string, error)
	PasswordLogin(ctx context.Context, state string, creds backend.Credentials) (string, error)
}

// Deps wires the protocol's collaborators and bounds.
type Deps struct {
	Page        Page
	API         API
	Credentials backend.Credentials

	// UIBase is the configured UI origin, fallback return_to for state
	// re-derivation.
	UIBase string

	// PageLoad bounds navigations; NetworkIdle bounds the best-effort idle
	// waits and is typically not longer than PageLoad.
	PageLoad    time.Duration
	NetworkIdle time.Duration

	Logger *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Result describes a completed login transaction.
type Result struct {
	State      string
	Provenance Provenance
	Redirect   string
	Attempts   int
}

// maxAttempts bounds the protocol retries: the initial run plus one
// direct-navigation retry.
const maxAttempts = 2

// Login runs the completion protocol for the captured candidate URL. A
// failed first attempt triggers exactly one retry: navigate straight to the
// original URL, and re-run from whatever the browser landed on if that URL
// looks more complete than the captured one.
func Login(ctx context.Context, deps Deps, candidate oauthurl.Candidate) (Result, error) {
	log := deps.logger()
	attemptURL := candidate.Raw
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := runProtocol(ctx, deps, attemptURL, candidate.Raw)
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		lastErr = err
		log.Warn("oauth completion attempt failed",
			"attempt", attempt,
			"error", err)

		if attempt == maxAttempts {
			break
		}

		// Direct-navigation retry: let the page's client-side redirects
		// run, then judge whether the landed URL is a better basis.
		attemptURL = candidate.Raw
		if err := deps.Page.NavigateEager(ctx, candidate.Raw, deps.PageLoad); err != nil {
			log.Warn("direct navigation failed, retrying with original URL", "error", err)
			continue
		}
		if err := deps.Page.WaitIdle(ctx, deps.NetworkIdle); err != nil {
			log.Debug("idle wait after direct navigation timed out", "error", err)
		}
		landed, err := deps.Page.CurrentURL(ctx)
		if err == nil && landed != "" && looksMoreComplete(landed) {
			log.Info("retrying oauth completion from landed URL",
				"landed_prefix", prefix(landed, 80))
			attemptURL = landed
		}
	}

	return Result{Attempts: maxAttempts}, fmt.Errorf("oauth completion failed after %d attempts: %w", maxAttempts, lastErr)
}

// runProtocol is one linear pass: navigate, resolve state, password login,
// follow redirect.
func runProtocol(ctx context.Context, deps Deps, attemptURL, originalURL string) (Result, error) {
	log := deps.logger()

	// Navigate. A timed-out full navigation degrades to an eager one
	// before the attempt is abandoned.
	if err := deps.Page.Navigate(ctx, attemptURL, deps.PageLoad); err != nil {
		log.Warn("navigation timed out, retrying without readiness wait", "error", err)
		if err := deps.Page.NavigateEager(ctx, attemptURL, deps.PageLoad); err != nil {
			return Result{}, fmt.Errorf("navigate to authorization URL: %w", err)
		}
	}
	if err := deps.Page.WaitIdle(ctx, deps.NetworkIdle); err != nil {
		// Non-fatal: slow asset loads must not sink the attempt.
		log.Debug("network idle wait timed out", "error", err)
	}

	current, err := deps.Page.CurrentURL(ctx)
	if err != nil {
		log.Debug("could not read current URL", "error", err)
	}

	rc := &resolveContext{
		currentURL:  current,
		originalURL: originalURL,
		content:     deps.Page.Content,
		api:         deps.API,
		uiBase:      deps.UIBase,
	}
	state, provenance, err := resolveState(ctx, rc, log)
	if err != nil {
		return Result{}, err
	}

	redirect, err := deps.API.PasswordLogin(ctx, state, deps.Credentials)
	if err != nil {
		return Result{}, fmt.Errorf("password login for state (%s): %w", provenance, err)
	}

	if err := deps.Page.Navigate(ctx, redirect, deps.PageLoad); err != nil {
		return Result{}, fmt.Errorf("follow login redirect: %w", err)
	}
	if err := deps.Page.WaitIdle(ctx, deps.NetworkIdle); err != nil {
		log.Debug("network idle wait after redirect timed out", "error", err)
	}

	log.Info("oauth transaction completed", "provenance", provenance)
	return Result{State: state, Provenance: provenance, Redirect: redirect}, nil
}

// resolveState walks the strategy chain, short-circuiting on the first
// non-empty value. Strategy errors count as misses.
func resolveState(ctx context.Context, rc *resolveContext, log *slog.Logger) (string, Provenance, error) {
	for _, s := range strategies {
		state, err := s.resolve(ctx, rc)
		if err != nil {
			log.Debug("state strategy errored", "strategy", s.provenance, "error", err)
			continue
		}
		if state == "" {
			continue
		}
		if s.provenance == ProvenancePathHeuristic {
			// Pattern-matched guess with no grammar behind it; make it
			// visible so false positives can be caught in practice.
			log.Warn("state resolved via path-segment heuristic", "segment_len", len(state))
		} else {
			log.Debug("state resolved", "strategy", s.provenance)
		}
		return state, s.provenance, nil
	}
	return "", "", ErrNoState
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
