package procctl

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
)

// CaptureResult holds the outcome of a one-shot command run.
type CaptureResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Capture runs a command to completion and returns its output and exit
// code. A non-zero exit is reported in the result, not as an error; only
// failures to run at all (not found, context deadline) return an error.
func Capture(ctx context.Context, logger *slog.Logger, args []string, env map[string]string) (CaptureResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("running command", "argv", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = mergedEnv(env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CaptureResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		ee := new(exec.ExitError)
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
			err = nil
		} else {
			res.ExitCode = -1
		}
	}

	logger.Debug("command finished",
		"argv0", args[0],
		"exit_code", res.ExitCode,
		"stdout_bytes", stdout.Len(),
		"stderr_bytes", stderr.Len())
	return res, err
}
