//go:build windows

package procctl

import "os"

// Windows has no SIGTERM delivery for arbitrary processes; Kill is the
// graceful path too, and the follow-up Kill in Terminate is a no-op.
func sendTerm(p *os.Process) error {
	return p.Kill()
}
