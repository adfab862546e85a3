package condarc

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	f, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.Exists {
		t.Fatal("Exists = true for missing file")
	}
	if f.HasOrgChannel("us-conversion") {
		t.Fatal("HasOrgChannel() = true for missing file")
	}
}

func TestLoad_ParsesChannels(t *testing.T) {
	home := t.TempDir()
	content := "channels:\n  - https://repo.anaconda.cloud/repo/us-conversion/main\n  - defaults\n"
	if err := os.WriteFile(filepath.Join(home, ".condarc"), []byte(content), 0o644); err != nil {
		t.Fatalf("write condarc: %v", err)
	}

	f, err := Load(home)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !f.Exists {
		t.Fatal("Exists = false for present file")
	}
	if !f.HasOrgChannel("us-conversion") {
		t.Fatal("HasOrgChannel(us-conversion) = false, want true")
	}
	if f.HasOrgChannel("other-org") {
		t.Fatal("HasOrgChannel(other-org) = true, want false")
	}
}

func TestLoad_DefaultChannelsOnly(t *testing.T) {
	home := t.TempDir()
	content := "default_channels:\n  - https://repo.anaconda.com/pkgs/main\n"
	if err := os.WriteFile(filepath.Join(home, ".condarc"), []byte(content), 0o644); err != nil {
		t.Fatalf("write condarc: %v", err)
	}

	f, err := Load(home)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.HasOrgChannel("us-conversion") {
		t.Fatal("HasOrgChannel() = true without org channel")
	}
}

func TestLoad_MalformedYAMLIsError(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, ".condarc"), []byte("channels: [unclosed"), 0o644); err != nil {
		t.Fatalf("write condarc: %v", err)
	}
	if _, err := Load(home); err == nil {
		t.Fatal("Load() error = nil for malformed yaml")
	}
}
