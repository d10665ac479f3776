// Package manifest handles sphinx.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a sphinx.toml project configuration.
type Manifest struct {
	Script  Script  `toml:"script"`
	Compile Compile `toml:"compile"`
	Runtime Runtime `toml:"runtime"`

	// Dir is the directory containing the sphinx.toml file (set at load time).
	Dir string `toml:"-"`
}

// Script contains script metadata.
type Script struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"`
}

// Compile configures bytecode output.
type Compile struct {
	Output string `toml:"output"`
	Debug  bool   `toml:"debug"`
}

// Runtime configures VM execution.
type Runtime struct {
	GCThreshold int `toml:"gc-threshold"`
}

// Load parses a sphinx.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "sphinx.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Script.Entry == "" {
		m.Script.Entry = "main.sphinx"
	}
	if m.Runtime.GCThreshold == 0 {
		m.Runtime.GCThreshold = 4096
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a sphinx.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "sphinx.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks the manifest for configuration errors.
func (m *Manifest) Validate() error {
	if m.Script.Name == "" {
		return errors.New("script.name is required")
	}
	if m.Runtime.GCThreshold < 0 {
		return errors.New("runtime.gc-threshold must not be negative")
	}
	return nil
}

// EntryPath returns the absolute path of the entry script.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.Dir, m.Script.Entry)
}

// OutputPath returns the absolute path compiled bytecode is written
// to, defaulting to the entry name with a .spxc extension.
func (m *Manifest) OutputPath() string {
	out := m.Compile.Output
	if out == "" {
		base := m.Script.Entry
		out = base[:len(base)-len(filepath.Ext(base))] + ".spxc"
	}
	return filepath.Join(m.Dir, out)
}
