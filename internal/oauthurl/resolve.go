package oauthurl

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LineSource yields further output lines from the process that produced a
// candidate. A false return means no line arrived within the timeout.
type LineSource interface {
	ReadLine(timeout time.Duration) (string, bool)
}

// Resolver completes a possibly-truncated authorization URL. Very long URLs
// can exceed what some platforms pass intact as a launcher argument, so the
// URL may arrive split into a head (stdout line) and a tail (sideband file
// or continuation lines).
type Resolver struct {
	// SidebandPath is where the browser stub writes the full URL out of
	// band. Empty disables the sideband strategy.
	SidebandPath string

	// AuthHost recognizes full-replacement continuation lines.
	AuthHost string

	// MaxLines bounds continuation reads from the process.
	MaxLines int

	// LineWait bounds the total wall-clock time spent on continuation
	// reads.
	LineWait time.Duration

	// SidebandWait bounds how long to wait for the sideband file to
	// appear when it does not exist yet.
	SidebandWait time.Duration

	Logger *slog.Logger
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Complete returns the best available version of the candidate. The fast
// path — candidate already complete — returns it unchanged with no I/O.
// Otherwise the sideband file is preferred, then continuation lines from
// src. Completion is best-effort: an incomplete candidate comes back as-is
// and downstream state resolution copes.
func (r *Resolver) Complete(ctx context.Context, cand Candidate, src LineSource) Candidate {
	if cand.HasState() {
		return cand
	}

	log := r.logger()
	log.Warn("authorization URL looks truncated, attempting completion",
		"url_prefix", truncate(cand.Raw, 80))

	if fromFile, ok := r.fromSideband(ctx, cand); ok {
		log.Info("recovered full URL from sideband file", "path", r.SidebandPath)
		return fromFile
	}

	if fromLines, ok := r.fromContinuationLines(ctx, cand, src); ok {
		return fromLines
	}

	log.Warn("URL completion exhausted, passing truncated URL downstream")
	return cand
}

// fromSideband reads the stub-written file, waiting briefly for it to
// appear if the stub has not flushed yet. The file wins only if it is
// longer than the candidate and itself complete.
func (r *Resolver) fromSideband(ctx context.Context, cand Candidate) (Candidate, bool) {
	if r.SidebandPath == "" {
		return cand, false
	}

	data, err := os.ReadFile(r.SidebandPath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger().Debug("sideband read failed", "path", r.SidebandPath, "error", err)
			return cand, false
		}
		if !r.awaitSideband(ctx) {
			return cand, false
		}
		data, err = os.ReadFile(r.SidebandPath)
		if err != nil {
			return cand, false
		}
	}

	content := strings.TrimSpace(string(data))
	full := Candidate{Raw: content}
	if len(content) > len(cand.Raw) && full.HasState() {
		return full, true
	}
	return cand, false
}

// awaitSideband watches the sideband directory for the file to be created,
// bounded by SidebandWait.
func (r *Resolver) awaitSideband(ctx context.Context) bool {
	if r.SidebandWait <= 0 {
		return false
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false
	}
	defer watcher.Close()

	dir := filepath.Dir(r.SidebandPath)
	if err := watcher.Add(dir); err != nil {
		return false
	}
	// The file may have been created between the failed read and the watch.
	if _, err := os.Stat(r.SidebandPath); err == nil {
		return true
	}

	deadline := time.After(r.SidebandWait)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return false
			}
			if ev.Name == r.SidebandPath && (ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write)) {
				return true
			}
		case <-watcher.Errors:
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// fromContinuationLines reads up to MaxLines further lines within LineWait.
// A line starting with "&" or carrying the state parameter is a tail to
// append; a line on the auth host replaces the candidate outright.
func (r *Resolver) fromContinuationLines(ctx context.Context, cand Candidate, src LineSource) (Candidate, bool) {
	if src == nil || r.MaxLines <= 0 {
		return cand, false
	}

	log := r.logger()
	deadline := time.Now().Add(r.LineWait)
	current := cand

	for n := 0; n < r.MaxLines; n++ {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			break
		}
		line, ok := src.ReadLine(remaining)
		if !ok {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case r.AuthHost != "" && strings.Contains(line, r.AuthHost):
			if full, ok := Extract(line, r.AuthHost); ok {
				log.Debug("continuation line replaces URL", "line", truncate(line, 80))
				current = full
			}
		case strings.HasPrefix(line, "&") || strings.Contains(line, stateParam):
			log.Debug("appending continuation fragment", "fragment", truncate(line, 80))
			current = Candidate{Raw: current.Raw + line}
		}

		if current.HasState() {
			log.Info("reassembled complete URL from continuation lines", "lines_read", n+1)
			return current, true
		}
	}
	return cand, false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
