// Package cliconfig loads the optional YAML configuration file accepted by
// the mmapipc CLI's --config flag (SPEC_FULL.md §11, §13).
package cliconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of --config. Every field is optional; a flag
// explicitly set on the command line always wins over the file (callers
// apply that precedence themselves, see cmd/mmapipc).
type File struct {
	// Path is the backing mmap file, used when the CLI is not given a
	// positional file argument.
	Path string `yaml:"path"`
	// PayloadSize is the per-ring capacity in bytes.
	PayloadSize uint32 `yaml:"payload_size"`
	// Debug enables development-mode logging.
	Debug bool `yaml:"debug"`
}

// Load reads and parses path. A missing --config flag is handled by the
// caller not calling Load at all; Load itself always requires the file to
// exist once given a path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &f, nil
}
