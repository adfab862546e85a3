package prompt

import (
	"errors"
	"testing"

	"github.com/anaconda/anaconda-cli-testing/internal/procctl"
)

func TestClassify_Deterministic(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Kind
	}{
		{"reissuing keyword", "Proceed with reissuing the token? [y/n]", Reissue},
		{"revoke keyword", "This will revoke your existing credentials (y/n)", Reissue},
		{"existing token keyword", "An existing token was found. Replace it? [y/n]", Reissue},
		{"condarc keyword", "Do you want to update your .condarc? [y/n]", Condarc},
		{"prepared to set keyword", "We are prepared to set the default channel [y/n]", Condarc},
		{"channel keyword", "Add the org channel to your configuration? (y/n)", Condarc},
		{"generic yn", "Continue? [y/n]", Unknown},
		{"case insensitive", "PROCEED WITH REISSUING? [Y/N]", Reissue},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.line); got != tc.want {
				t.Fatalf("Classify(%q) = %q, want %q", tc.line, got, tc.want)
			}
		})
	}
}

func TestIsPrompt(t *testing.T) {
	if IsPrompt("Installing token for organization us-conversion...") {
		t.Fatal("IsPrompt() = true for a status line")
	}
	if !IsPrompt("Do you want to continue?") {
		t.Fatal("IsPrompt() = false for a do-you-want-to line")
	}
}

type recordingWriter struct {
	lines []string
	err   error
}

func (w *recordingWriter) WriteLine(text string) error {
	if w.err != nil {
		return w.err
	}
	w.lines = append(w.lines, text)
	return nil
}

func TestOnLine_AnswersAndTracksState(t *testing.T) {
	w := &recordingWriter{}
	r := NewResponder(map[Kind]string{Reissue: "y", Condarc: "y"}, nil)

	kind, err := r.OnLine("Proceed with reissuing the token? [y/n]", w)
	if err != nil {
		t.Fatalf("OnLine() error = %v", err)
	}
	if kind != Reissue || !r.State.Answered(Reissue) {
		t.Fatalf("kind = %q, answered = %v, want reissue answered", kind, r.State.Answered(Reissue))
	}
	if len(w.lines) != 1 || w.lines[0] != "y" {
		t.Fatalf("writes = %v, want single y", w.lines)
	}
}

func TestOnLine_UnknownFallsBackToUnanswered(t *testing.T) {
	w := &recordingWriter{}
	r := NewResponder(map[Kind]string{Reissue: "y", Condarc: "n"}, nil)

	// First generic prompt goes to reissue (asked first), second to condarc.
	kind, err := r.OnLine("Continue? [y/n]", w)
	if err != nil || kind != Reissue {
		t.Fatalf("first generic prompt = %q, %v, want reissue", kind, err)
	}
	kind, err = r.OnLine("Continue? [y/n]", w)
	if err != nil || kind != Condarc {
		t.Fatalf("second generic prompt = %q, %v, want condarc", kind, err)
	}
	if w.lines[0] != "y" || w.lines[1] != "n" {
		t.Fatalf("writes = %v, want [y n]", w.lines)
	}

	// A third generic prompt has nowhere left to go.
	kind, err = r.OnLine("Continue? [y/n]", w)
	if err != nil || kind != "" {
		t.Fatalf("third generic prompt = %q, %v, want no action", kind, err)
	}
}

func TestOnLine_FirstAnswerWins(t *testing.T) {
	w := &recordingWriter{}
	r := NewResponder(map[Kind]string{Reissue: "n"}, nil)

	if _, err := r.OnLine("Proceed with reissuing? [y/n]", w); err != nil {
		t.Fatalf("OnLine() error = %v", err)
	}
	// Repeat of the same kind: no second write, no crash.
	kind, err := r.OnLine("Proceed with reissuing? [y/n]", w)
	if err != nil || kind != "" {
		t.Fatalf("repeat prompt = %q, %v, want ignored", kind, err)
	}
	if len(w.lines) != 1 {
		t.Fatalf("writes = %v, want exactly one", w.lines)
	}
	if !r.State.Answered(Reissue) {
		t.Fatal("reissue no longer marked answered")
	}
}

func TestOnLine_BrokenPipePassesThrough(t *testing.T) {
	w := &recordingWriter{err: procctl.ErrBrokenPipe}
	r := NewResponder(nil, nil)

	_, err := r.OnLine("Proceed with reissuing? [y/n]", w)
	if !errors.Is(err, procctl.ErrBrokenPipe) {
		t.Fatalf("OnLine() error = %v, want ErrBrokenPipe", err)
	}
	if r.State.Answered(Reissue) {
		t.Fatal("kind marked answered despite failed write")
	}
}

func TestOnLine_NonPromptIgnored(t *testing.T) {
	w := &recordingWriter{}
	r := NewResponder(nil, nil)

	kind, err := r.OnLine("Fetching organization metadata...", w)
	if err != nil || kind != "" || len(w.lines) != 0 {
		t.Fatalf("non-prompt line produced kind=%q err=%v writes=%v", kind, err, w.lines)
	}
}
