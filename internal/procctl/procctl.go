// Package procctl owns child CLI processes: spawning with line-oriented
// pipes, bounded non-destructive line reads, prompt answers over stdin, and
// graceful-then-forced termination.
package procctl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ErrBrokenPipe reports that the child closed its stdin before an answer was
// written. This is an expected outcome, not a failure: the child may decide
// it no longer needs the prompt response and exit.
var ErrBrokenPipe = errors.New("child stdin closed")

// SpawnSpec describes a child process to launch.
type SpawnSpec struct {
	// Args is the full argv; Args[0] is resolved via PATH.
	Args []string

	// Env entries overlay the parent environment.
	Env map[string]string

	// Dir is the working directory ("" means inherit).
	Dir string

	// PTY attaches the child to a pseudo-terminal instead of pipes. Some
	// CLIs only emit interactive prompts when stdin is a TTY.
	PTY bool

	Logger *slog.Logger
}

// Child is a spawned CLI process with exclusively-owned pipe handles. A
// single goroutine scans its combined stdout/stderr into a line channel so
// that a timed-out ReadLine never loses the line.
type Child struct {
	cmd    *exec.Cmd
	logger *slog.Logger

	stdin io.WriteCloser
	tty   *os.File // non-nil in PTY mode; carries both directions

	lines      chan string
	scanDone   chan struct{}
	stopRead   chan struct{}
	stopOnce   sync.Once
	exited     chan struct{}
	exitCode   int
	waitErr    error
	writeMu    sync.Mutex
	terminated bool
	termMu     sync.Mutex
}

// Spawn starts the child with immediately-flushed line pipes. Stderr is
// merged into the stdout stream, matching how the prompts and the
// authorization URL interleave on a real terminal.
func Spawn(spec SpawnSpec) (*Child, error) {
	if len(spec.Args) == 0 {
		return nil, errors.New("spawn: empty argv")
	}
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = mergedEnv(spec.Env)

	c := &Child{
		cmd:      cmd,
		logger:   logger,
		lines:    make(chan string, 256),
		scanDone: make(chan struct{}),
		stopRead: make(chan struct{}),
		exited:   make(chan struct{}),
		exitCode: -1,
	}

	var reader io.Reader
	if spec.PTY {
		tty, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("spawn %s (pty): %w", spec.Args[0], err)
		}
		c.tty = tty
		c.stdin = tty
		reader = tty
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("spawn %s: stdin pipe: %w", spec.Args[0], err)
		}
		pr, pw, err := os.Pipe()
		if err != nil {
			stdin.Close()
			return nil, fmt.Errorf("spawn %s: output pipe: %w", spec.Args[0], err)
		}
		cmd.Stdout = pw
		cmd.Stderr = pw
		if err := cmd.Start(); err != nil {
			stdin.Close()
			pr.Close()
			pw.Close()
			return nil, fmt.Errorf("spawn %s: %w", spec.Args[0], err)
		}
		// Parent's write end must close so the scanner sees EOF on exit.
		pw.Close()
		c.stdin = stdin
		reader = pr
	}

	logger.Debug("spawned child", "pid", cmd.Process.Pid, "argv0", spec.Args[0], "pty", spec.PTY)

	go c.scan(reader)
	go c.wait()

	return c, nil
}

func (c *Child) scan(r io.Reader) {
	defer close(c.scanDone)
	if closer, ok := r.(io.Closer); ok {
		defer closer.Close()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		// Once the consumer is gone (stopReading), excess lines are dropped
		// rather than blocking this goroutine on a full channel forever.
		select {
		case c.lines <- scanner.Text():
		case <-c.stopRead:
		}
	}
	close(c.lines)
}

// stopReading releases the scan goroutine from delivering further lines.
// Called on the termination paths; lines already buffered stay readable.
func (c *Child) stopReading() {
	c.stopOnce.Do(func() { close(c.stopRead) })
}

func (c *Child) wait() {
	err := c.cmd.Wait()
	c.waitErr = err
	if err == nil {
		c.exitCode = 0
	} else if ee := new(exec.ExitError); errors.As(err, &ee) {
		c.exitCode = ee.ExitCode()
	}
	close(c.exited)
}

// PID returns the child's process identifier.
func (c *Child) PID() int {
	return c.cmd.Process.Pid
}

// Exited reports whether the child has exited.
func (c *Child) Exited() bool {
	select {
	case <-c.exited:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code, or -1 while the child is still running or
// if it was killed by a signal before reporting a code.
func (c *Child) ExitCode() int {
	if !c.Exited() {
		return -1
	}
	return c.exitCode
}

// WaitExit blocks until the child exits or the timeout elapses.
func (c *Child) WaitExit(timeout time.Duration) bool {
	select {
	case <-c.exited:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ReadLine returns the next output line, waiting up to timeout. A timeout
// returns ("", false) without consuming anything: the line is still
// delivered by a later call. ("", false) is also returned once the output
// stream ends; check Exited to distinguish.
func (c *Child) ReadLine(timeout time.Duration) (string, bool) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", false
		}
		return line, true
	case <-time.After(timeout):
		return "", false
	}
}

// Drain waits briefly for the scanner to flush after process exit and
// returns every line still buffered. Exit can race the final output lines,
// so callers re-scan these for triggers they might otherwise miss.
func (c *Child) Drain(wait time.Duration) []string {
	select {
	case <-c.scanDone:
	case <-time.After(wait):
	}
	var rest []string
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return rest
			}
			rest = append(rest, line)
		default:
			return rest
		}
	}
}

// WriteLine writes a newline-terminated response to the child's stdin.
// Returns ErrBrokenPipe when the child has already closed its end.
func (c *Child) WriteLine(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := io.WriteString(c.stdin, text+"\n")
	if err == nil {
		return nil
	}
	if isBrokenPipe(err) {
		return ErrBrokenPipe
	}
	return fmt.Errorf("write to child stdin: %w", err)
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

// Terminate stops the child: graceful signal, bounded wait, forced kill,
// second bounded wait. Safe to call on an already-exited child and safe to
// call twice; it never blocks past graceWait+killWait.
func (c *Child) Terminate(graceWait, killWait time.Duration) error {
	c.termMu.Lock()
	defer c.termMu.Unlock()

	c.stopReading()
	if c.Exited() {
		return nil
	}
	if !c.terminated {
		c.terminated = true
		if err := sendTerm(c.cmd.Process); err != nil {
			c.logger.Debug("graceful signal failed", "pid", c.PID(), "error", err)
		}
	}
	if c.WaitExit(graceWait) {
		c.logger.Debug("child terminated gracefully", "pid", c.PID())
		return nil
	}

	c.logger.Warn("child ignored graceful signal, killing", "pid", c.PID())
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill child %d: %w", c.PID(), err)
	}
	if !c.WaitExit(killWait) {
		return fmt.Errorf("child %d did not exit after kill", c.PID())
	}
	return nil
}

// Close releases the stdin handle. Idempotent.
func (c *Child) Close() {
	c.stopReading()
	if c.tty != nil {
		_ = c.tty.Close()
		return
	}
	_ = c.stdin.Close()
}

// mergedEnv overlays entries on the parent environment, keeping the result
// deterministic for logging.
func mergedEnv(overlay map[string]string) []string {
	if len(overlay) == 0 {
		return nil // inherit as-is
	}
	seen := make(map[string]int)
	env := os.Environ()
	for i, kv := range env {
		for j := 0; j < len(kv); j++ {
			if kv[j] == '=' {
				seen[kv[:j]] = i
				break
			}
		}
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv := k + "=" + overlay[k]
		if i, ok := seen[k]; ok {
			env[i] = kv
		} else {
			env = append(env, kv)
		}
	}
	return env
}
