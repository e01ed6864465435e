// Package config loads the jail daemon's YAML configuration: the set of
// registered commands and their default limit profiles. A single file
// maps directly onto jail.Registry entries, and individual command
// descriptor files dropped into a watched directory can register or
// update one command without a full reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/jail/internal/jail"
)

// LimitsConfig mirrors jail.Profile in a YAML-friendly shape. A field left
// nil is omitted from the override map passed to jail.Merge, so the
// command's coded default survives; write -1 explicitly for Unlimited.
type LimitsConfig struct {
	CPU      *int64 `yaml:"cpu,omitempty"`
	Time     *int64 `yaml:"time,omitempty"`
	Memory   *int64 `yaml:"memory,omitempty"`
	FileSize *int64 `yaml:"file_size,omitempty"`
	NProc    *int64 `yaml:"nproc,omitempty"`
	CanFork  *bool  `yaml:"can_fork,omitempty"`
}

// Overrides converts the sparse YAML limits into the map jail.Merge expects.
func (l LimitsConfig) Overrides() map[jail.LimitKey]int64 {
	out := map[jail.LimitKey]int64{}
	if l.CPU != nil {
		out[jail.CPU] = *l.CPU
	}
	if l.Time != nil {
		out[jail.TIME] = *l.Time
	}
	if l.Memory != nil {
		out[jail.MEMORY] = *l.Memory
	}
	if l.FileSize != nil {
		out[jail.FILE_SIZE] = *l.FileSize
	}
	if l.NProc != nil {
		out[jail.NPROC] = *l.NProc
	}
	if l.CanFork != nil {
		v := int64(0)
		if *l.CanFork {
			v = 1
		}
		out[jail.CAN_FORK] = v
	}
	return out
}

// CommandConfig describes one entry in the commands list.
type CommandConfig struct {
	Name       string       `yaml:"name"`
	BinPath    string       `yaml:"bin_path"`
	User       string       `yaml:"user,omitempty"`
	ArgvPrefix []string     `yaml:"argv_prefix,omitempty"`
	Limits     LimitsConfig `yaml:"limits,omitempty"`
}

// File is the top-level shape of the YAML registry file.
type File struct {
	Defaults LimitsConfig    `yaml:"defaults,omitempty"`
	Commands []CommandConfig `yaml:"commands,omitempty"`
}

// Load reads and parses a registry YAML file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}

// Apply registers every command in f against reg, deriving each command's
// default Profile by merging f.Defaults with the command's own Limits.
// A command whose limit overrides are invalid is skipped, with its error
// collected rather than aborting the whole file — one bad entry must not
// keep the rest of the registry from loading.
func Apply(reg *jail.Registry, f *File) []error {
	var errs []error
	baseline, err := jail.Merge(jail.Profile{}, f.Defaults.Overrides())
	if err != nil {
		return []error{fmt.Errorf("config: defaults: %w", err)}
	}
	for _, c := range f.Commands {
		profile, err := jail.Merge(baseline, c.Limits.Overrides())
		if err != nil {
			errs = append(errs, fmt.Errorf("config: command %q: %w", c.Name, err))
			continue
		}
		reg.Register(c.Name, c.BinPath, c.User, c.ArgvPrefix, profile)
	}
	return errs
}

// LoadOne parses a single command descriptor file — the unit WatchCommandDir
// hands to its load callback, one changed drop-in file at a time. It returns the registered
// command's name so the caller can log which entry changed.
func LoadOne(reg *jail.Registry, baseline jail.Profile, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: read %s: %w", path, err)
	}
	var c CommandConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.Name == "" {
		return "", fmt.Errorf("config: %s: missing name", path)
	}
	profile, err := jail.Merge(baseline, c.Limits.Overrides())
	if err != nil {
		return "", fmt.Errorf("config: %s: %w", path, err)
	}
	reg.Register(c.Name, c.BinPath, c.User, c.ArgvPrefix, profile)
	return c.Name, nil
}

// Dir joins base with the conventional drop-in subdirectory name, creating
// it if absent, so WatchCommandDir always has somewhere to watch.
func Dir(base string) (string, error) {
	dir := filepath.Join(base, "commands.d")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	return dir, nil
}
