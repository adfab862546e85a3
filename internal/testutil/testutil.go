// Package testutil provides helpers for tests that stand in a scripted
// shell child for the CLI under test.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
)

// SkipOnWindows skips tests that spawn /bin/sh scripted children.
func SkipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test uses /bin/sh scripted children")
	}
}

// WriteScript writes an executable /bin/sh script into a per-test temp
// directory and returns its path.
func WriteScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "child.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// CLIScript assembles a scripted stand-in for the anaconda CLI, step by
// step, in the order the steps should execute.
type CLIScript struct {
	lines []string
}

// OpensBrowser emits the browser-stub line announcing url.
func (s *CLIScript) OpensBrowser(url string) *CLIScript {
	s.lines = append(s.lines, `echo "[BROWSER-STUB] Would open: `+url+`"`)
	return s
}

// Asks prints a prompt line and reads the answer into the named shell
// variable.
func (s *CLIScript) Asks(prompt, into string) *CLIScript {
	s.lines = append(s.lines, `echo "`+prompt+`"`, "read "+into)
	return s
}

// Prints emits a plain output line.
func (s *CLIScript) Prints(line string) *CLIScript {
	s.lines = append(s.lines, `echo "`+line+`"`)
	return s
}

// Raw appends a shell fragment verbatim.
func (s *CLIScript) Raw(fragment string) *CLIScript {
	s.lines = append(s.lines, fragment)
	return s
}

// Exits terminates the script with the given status.
func (s *CLIScript) Exits(code int) *CLIScript {
	s.lines = append(s.lines, "exit "+strconv.Itoa(code))
	return s
}

// Build writes the assembled script and returns its path.
func (s *CLIScript) Build(t *testing.T) string {
	t.Helper()
	return WriteScript(t, strings.Join(s.lines, "\n")+"\n")
}
