package flow

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/anaconda/anaconda-cli-testing/internal/config"
)

// Workspace is the disposable on-disk context for one flow: a clean home
// with no cached token, the browser-stub script the CLI launches instead of
// a real browser, and the sideband file the stub writes the full URL to.
type Workspace struct {
	Root     string
	Home     string
	StubPath string
	Sideband string
	Port     int

	remove bool
}

// NewWorkspace creates a workspace under dir (a fresh temp directory when
// dir is ""). The stub echoes the authorization URL back on stdout and
// mirrors it into the sideband file, covering platforms that truncate long
// launcher arguments.
func NewWorkspace(dir string) (*Workspace, error) {
	remove := false
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "condatest-*")
		if err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
		remove = true
	}

	home := filepath.Join(dir, "clean_home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("create clean home: %w", err)
	}

	sideband := filepath.Join(home, config.SidebandFileName)
	stub, err := writeBrowserStub(dir, sideband)
	if err != nil {
		return nil, err
	}

	port, err := FreePort()
	if err != nil {
		return nil, err
	}

	return &Workspace{
		Root:     dir,
		Home:     home,
		StubPath: stub,
		Sideband: sideband,
		Port:     port,
		remove:   remove,
	}, nil
}

// ChildEnv builds the environment overlay for the CLI under test: home
// override, browser-launcher override, callback port, blanked API key to
// force a fresh OAuth flow, and the sideband path for the stub.
func (w *Workspace) ChildEnv() map[string]string {
	return map[string]string{
		"HOME":                 w.Home,
		config.EnvBrowser:      w.StubPath,
		config.EnvCallbackPort: strconv.Itoa(w.Port),
		config.EnvAPIKey:       "",
		config.EnvOAuthURLFile: w.Sideband,
	}
}

// Cleanup removes the workspace if it owns its directory.
func (w *Workspace) Cleanup() {
	if w.remove {
		_ = os.RemoveAll(w.Root)
	}
}

func writeBrowserStub(dir, sideband string) (string, error) {
	if runtime.GOOS == "windows" {
		path := filepath.Join(dir, "pw-open.bat")
		body := "@echo off\r\n" +
			"echo [BROWSER-STUB-URL]%1\r\n" +
			"echo %1> \"" + sideband + "\"\r\n"
		if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
			return "", fmt.Errorf("write browser stub: %w", err)
		}
		return path, nil
	}

	path := filepath.Join(dir, "pw-open.sh")
	body := "#!/usr/bin/env bash\n" +
		"# Called by the CLI with the OAuth URL as $1; echo it back so the\n" +
		"# harness can capture it, and mirror it to the sideband file.\n" +
		"echo \"[BROWSER-STUB] Would open: $1\"\n" +
		"printf '%s' \"$1\" > \"" + sideband + "\"\n" +
		"sleep 0.5\n"
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		return "", fmt.Errorf("write browser stub: %w", err)
	}
	return path, nil
}

// FreePort grabs an ephemeral TCP port for the CLI's OAuth callback.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("find free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
