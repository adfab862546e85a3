//go:build !windows

package procctl

import (
	"os"
	"syscall"
)

func sendTerm(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
