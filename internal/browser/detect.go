package browser

import (
	"os"
	"os/exec"
	"runtime"
)

// findChrome locates a Chrome/Chromium executable, returning "" to let
// chromedp fall back to its own lookup.
func findChrome() string {
	switch runtime.GOOS {
	case "darwin":
		for _, p := range []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		} {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	case "linux":
		for _, p := range []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
		} {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
		for _, name := range []string{"google-chrome", "chromium"} {
			if path, err := exec.LookPath(name); err == nil {
				return path
			}
		}
	case "windows":
		for _, p := range []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		} {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}
