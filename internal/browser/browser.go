// Package browser drives a Chrome instance for the OAuth leg of the flows.
// It implements the page capability the completion protocol consumes:
// navigation with bounded waits, current-URL and content reads, and a
// visible-text check for the UI assertions.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Options configures the browser instance.
type Options struct {
	// Headless runs Chrome without UI.
	Headless bool

	// UserDataDir is the Chrome profile directory. Empty uses a temporary
	// profile, which is what a clean-home flow wants.
	UserDataDir string

	Logger *slog.Logger
}

// Page is one Chrome tab owned by a single flow.
type Page struct {
	ctx         context.Context
	cancelTask  context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *slog.Logger
}

// NewPage starts Chrome and opens a tab. The caller must Close it.
func NewPage(ctx context.Context, opts Options) (*Page, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	} else {
		allocOpts = append(allocOpts,
			chromedp.Flag("headless", false),
			chromedp.WindowSize(1280, 900),
		)
	}
	if path := findChrome(); path != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(path))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	// Force the browser to actually start so failures surface here, not on
	// the first navigation.
	if err := chromedp.Run(taskCtx); err != nil {
		cancelTask()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Page{
		ctx:         taskCtx,
		cancelTask:  cancelTask,
		cancelAlloc: cancelAlloc,
		logger:      logger,
	}, nil
}

// Navigate opens the URL and waits for the document body, bounded by
// timeout.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	runCtx, cancel := p.bounded(ctx, timeout)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	)
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// NavigateEager opens the URL without waiting for document readiness, for
// the degraded retry path where a slow page must not fail the attempt.
func (p *Page) NavigateEager(ctx context.Context, url string, timeout time.Duration) error {
	runCtx, cancel := p.bounded(ctx, timeout)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate (eager): %w", err)
	}
	return nil
}

// WaitIdle approximates a network-idle wait: document readyState complete
// followed by a short settle period, bounded by timeout. A timeout is
// reported but callers treat it as non-fatal.
func (p *Page) WaitIdle(ctx context.Context, timeout time.Duration) error {
	runCtx, cancel := p.bounded(ctx, timeout)
	defer cancel()

	deadline := time.Now().Add(timeout)
	for {
		var state string
		if err := chromedp.Run(runCtx,
			chromedp.Evaluate(`document.readyState`, &state),
		); err != nil {
			return fmt.Errorf("wait idle: %w", err)
		}
		if state == "complete" {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("wait idle: page never reached readyState complete")
		}
		time.Sleep(250 * time.Millisecond)
	}

	// Client-side redirects fire just after load; give them a beat.
	settle := 500 * time.Millisecond
	if remaining := time.Until(deadline); remaining < settle {
		settle = remaining
	}
	if settle > 0 {
		time.Sleep(settle)
	}
	return nil
}

// CurrentURL returns the tab's current location, after any redirects.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := p.bounded(ctx, 10*time.Second)
	defer cancel()

	var url string
	if err := chromedp.Run(runCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read current url: %w", err)
	}
	return url, nil
}

// Content returns the rendered page HTML.
func (p *Page) Content(ctx context.Context) (string, error) {
	runCtx, cancel := p.bounded(ctx, 10*time.Second)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", fmt.Errorf("read page content: %w", err)
	}
	return html, nil
}

// HasVisibleText polls the rendered text for the given string, bounded by
// timeout.
func (p *Page) HasVisibleText(ctx context.Context, text string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		runCtx, cancel := p.bounded(ctx, 5*time.Second)
		var body string
		err := chromedp.Run(runCtx, chromedp.Text("body", &body, chromedp.ByQuery))
		cancel()
		if err == nil && strings.Contains(body, text) {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("text %q not visible: %w", text, err)
			}
			return fmt.Errorf("text %q not visible before timeout", text)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// Close tears the tab and the browser down.
func (p *Page) Close() error {
	p.cancelTask()
	p.cancelAlloc()
	return nil
}

// bounded derives a run context from the page's own lifetime, bounded by
// timeout and cancelled early if the caller's context ends first.
func (p *Page) bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	if ctx == nil {
		return runCtx, cancel
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}
