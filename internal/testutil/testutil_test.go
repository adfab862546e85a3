package testutil

import (
	"os"
	"strings"
	"testing"
)

func TestCLIScript_Build(t *testing.T) {
	path := (&CLIScript{}).
		OpensBrowser("https://auth.example.test/authorize?state=abc").
		Asks("Proceed? [y/n]", "answer").
		Prints("done").
		Exits(3).
		Build(t)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	body := string(data)

	if !strings.HasPrefix(body, "#!/bin/sh\n") {
		t.Error("script missing shebang")
	}
	for _, want := range []string{
		`[BROWSER-STUB] Would open: https://auth.example.test/authorize?state=abc`,
		`echo "Proceed? [y/n]"`,
		"read answer",
		`echo "done"`,
		"exit 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("script missing %q:\n%s", want, body)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat script: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Error("script is not executable")
	}
}
