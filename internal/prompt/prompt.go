// Package prompt answers yes/no questions the CLI under test asks on its
// stdout. Classification is a closed variant set: a prompt is either the
// token-reissue question, the condarc-configuration question, or unknown,
// with a deterministic tie-break for unknowns.
package prompt

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/anaconda/anaconda-cli-testing/internal/procctl"
)

// Kind names the semantic prompt being asked.
type Kind string

const (
	// Reissue asks whether to revoke and regenerate an existing token.
	Reissue Kind = "reissue"
	// Condarc asks whether to write the organization channel to .condarc.
	Condarc Kind = "condarc"
	// Unknown is a generic prompt that neither marker set identifies.
	Unknown Kind = "unknown"
)

// Keyword sets matching the CLI's wording. Matched case-insensitively.
var (
	promptMarkers = []string{
		"[y/n]", "(y/n)", "reissuing", "revoke", "proceed",
		"do you want to", "prepared to set",
	}
	reissueMarkers = []string{"reissuing", "revoke", "existing token"}
	condarcMarkers = []string{"condarc", "channel", "prepared to set"}
)

// IsPrompt reports whether a line is asking for input.
func IsPrompt(line string) bool {
	return containsAny(strings.ToLower(line), promptMarkers)
}

// Classify determines which semantic prompt a line carries. Reissue markers
// win over condarc markers, mirroring the order the CLI asks in.
func Classify(line string) Kind {
	lower := strings.ToLower(line)
	if containsAny(lower, reissueMarkers) {
		return Reissue
	}
	if containsAny(lower, condarcMarkers) {
		return Condarc
	}
	return Unknown
}

func containsAny(lower string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// State tracks which prompt kinds have been answered in one flow. The
// mapping only ever grows: an answered kind stays answered.
type State struct {
	answered map[Kind]bool
}

// NewState returns an empty per-flow prompt state.
func NewState() *State {
	return &State{answered: make(map[Kind]bool)}
}

// Answered reports whether the kind has been answered.
func (s *State) Answered(k Kind) bool {
	return s.answered[k]
}

// MarkAnswered records the kind as handled. Monotonic; a repeat is a no-op.
func (s *State) MarkAnswered(k Kind) {
	s.answered[k] = true
}

// Snapshot returns a copy of the per-kind answered map.
func (s *State) Snapshot() map[Kind]bool {
	out := make(map[Kind]bool, len(s.answered))
	for k, v := range s.answered {
		out[k] = v
	}
	return out
}

// Writer is the stdin side of the child process.
type Writer interface {
	WriteLine(text string) error
}

// Responder watches output lines for prompts and answers them. Answers is
// the response per kind ("y" or "n"); kinds without an entry get "y".
type Responder struct {
	Answers map[Kind]string
	State   *State
	Logger  *slog.Logger
}

// NewResponder builds a responder with fresh state.
func NewResponder(answers map[Kind]string, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{Answers: answers, State: NewState(), Logger: logger}
}

// OnLine inspects one output line and, if it is a prompt, writes the
// configured answer to the child. It returns the kind answered (or "" when
// the line was not a prompt or the kind was already handled).
//
// ErrBrokenPipe from the write is passed through so the caller can end its
// read loop: the child moved on without needing the answer.
func (r *Responder) OnLine(line string, w Writer) (Kind, error) {
	if !IsPrompt(line) {
		return "", nil
	}

	kind := Classify(line)
	if kind == Unknown {
		// Tie-break: whichever expected kind has not yet been answered,
		// reissue first since the CLI asks it first. A third prompt kind
		// would be misattributed here, so keep it visible.
		switch {
		case !r.State.Answered(Reissue):
			kind = Reissue
		case !r.State.Answered(Condarc):
			kind = Condarc
		default:
			r.Logger.Warn("unclassified prompt after both known kinds answered", "line", line)
			return "", nil
		}
		r.Logger.Warn("prompt classified by elimination", "assumed_kind", kind, "line", line)
	}

	if r.State.Answered(kind) {
		// First answer wins; the CLI re-printing a prompt must not
		// trigger a second write.
		return "", nil
	}

	answer := r.Answers[kind]
	if answer == "" {
		answer = "y"
	}

	if err := w.WriteLine(answer); err != nil {
		if errors.Is(err, procctl.ErrBrokenPipe) {
			r.Logger.Warn("child closed stdin before prompt answer", "kind", kind)
			return "", err
		}
		return "", err
	}

	r.State.MarkAnswered(kind)
	r.Logger.Info("answered prompt", "kind", kind, "answer", answer)
	return kind, nil
}
