// Package condarc inspects the .condarc file a token install writes when
// the user accepts the channel-configuration prompt.
package condarc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the subset of .condarc the harness asserts on.
type File struct {
	Channels        []string `yaml:"channels"`
	ChannelAlias    string   `yaml:"channel_alias"`
	DefaultChannels []string `yaml:"default_channels"`

	// Exists is false when no .condarc was present; the zero value then
	// answers every query with "not configured".
	Exists bool `yaml:"-"`
}

// Path returns the .condarc location under the given home directory.
func Path(home string) string {
	return filepath.Join(home, ".condarc")
}

// Load reads the .condarc under home. A missing file is not an error.
func Load(home string) (*File, error) {
	data, err := os.ReadFile(Path(home))
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("read condarc: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse condarc: %w", err)
	}
	f.Exists = true
	return &f, nil
}

// HasOrgChannel reports whether any configured channel references the
// organization.
func (f *File) HasOrgChannel(org string) bool {
	for _, group := range [][]string{f.Channels, f.DefaultChannels} {
		for _, ch := range group {
			if strings.Contains(ch, org) {
				return true
			}
		}
	}
	return strings.Contains(f.ChannelAlias, org)
}
