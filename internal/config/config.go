// Package config loads the engine's recognized options (spec §6.3). The
// teacher carries no config-file loader of its own (its CLIs take flags
// only), but the broader example pack's gopkg.in/yaml.v3 — already an
// indirect dependency the teacher's go.mod pulls in through its demo
// tooling — is the natural fit for an optional on-disk sidecar, layered the
// way cmd/tinysqlpage/main.go layers flag.String defaults under
// user-supplied overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options are the options recognized by the engine (spec §6.3).
type Options struct {
	// StoreInMemory keeps an s2-compressed copy of each page in the version
	// that read it, made the first time that version reads the page. Pages
	// are not read up front: a page not yet read is still fetched from the
	// open file handles.
	StoreInMemory bool `yaml:"store_in_memory"`
	// StrictFormatChecking upgrades fragment-total and accounted-space
	// mismatches from warnings to hard errors.
	StrictFormatChecking bool `yaml:"strict_format_checking"`
	// CarveFreelistPages additionally carves freelist leaf page bodies.
	CarveFreelistPages bool `yaml:"carve_freelist_pages"`
	// UseMmap opens the database and WAL files through a memory-mapped
	// Backend (unix only) instead of the default os.File-backed one, for
	// large files where repeated ReadAt syscalls are undesirable.
	UseMmap bool `yaml:"use_mmap"`
}

// Default returns the documented defaults: store_in_memory=false,
// strict_format_checking=true, carve_freelist_pages=false, use_mmap=false.
func Default() Options {
	return Options{
		StoreInMemory:        false,
		StrictFormatChecking: true,
		CarveFreelistPages:   false,
		UseMmap:              false,
	}
}

// Load reads a YAML sidecar file and overlays it onto Default(). A missing
// file is not an error: it simply yields the defaults, matching the way an
// optional flag in the teacher's CLIs is simply left at its zero value when
// unset.
func Load(path string) (Options, error) {
	opts := Default()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return opts, nil
}
