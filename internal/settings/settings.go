// Package settings loads the CLI settings file: named profiles, each selecting
// a stack, a project, a metadata store and an artifact directory.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables overriding the settings file location and the active profile.
const (
	EnvSettings = "MLPIPE_SETTINGS"
	EnvProfile  = "MLPIPE_PROFILE"
)

const (
	DefaultProfile = "default"
	DefaultStack   = "local"
	DefaultProject = "default"

	// DriverMemory keeps metadata in process; nothing survives the command.
	DriverMemory = "memory"
)

// Settings is the content of the settings file:
//
//	active_profile: default
//	profiles:
//	  default:
//	    stack: local
//	    project: default
//	    store:
//	      driver: sqlite3
//	      dsn: /home/me/.config/mlpipe/mlpipe.db
//	    artifact_root: /home/me/.config/mlpipe/artifacts
type Settings struct {
	ActiveProfile string              `yaml:"active_profile"`
	Profiles      map[string]*Profile `yaml:"profiles"`

	path string
}

// Profile is one named environment.
type Profile struct {
	Name         string      `yaml:"-"`
	Stack        string      `yaml:"stack"`
	Project      string      `yaml:"project"`
	Store        StoreConfig `yaml:"store"`
	ArtifactRoot string      `yaml:"artifact_root"`
}

// StoreConfig selects the metadata store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite3, postgres, mysql
	DSN    string `yaml:"dsn"`
}

// Dir returns the directory holding the default settings file and local data.
func Dir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mlpipe")
	}
	return ".mlpipe"
}

// DefaultPath returns $MLPIPE_SETTINGS, or settings.yaml under Dir.
func DefaultPath() string {
	if p := os.Getenv(EnvSettings); p != "" {
		return p
	}
	return filepath.Join(Dir(), "settings.yaml")
}

// DefaultProfileFor returns the profile used when none is configured: a local
// sqlite store and artifact directory under dir.
func DefaultProfileFor(dir string) *Profile {
	return &Profile{
		Name:         DefaultProfile,
		Stack:        DefaultStack,
		Project:      DefaultProject,
		Store:        StoreConfig{Driver: "sqlite3", DSN: filepath.Join(dir, "mlpipe.db")},
		ArtifactRoot: filepath.Join(dir, "artifacts"),
	}
}

// Default returns settings with only the default profile, rooted next to path.
func Default(path string) *Settings {
	return &Settings{
		ActiveProfile: DefaultProfile,
		Profiles:      map[string]*Profile{DefaultProfile: DefaultProfileFor(filepath.Dir(path))},
		path:          path,
	}
}

// Load reads the settings file at path (DefaultPath when empty). A missing
// file yields Default settings. Profiles missing fields get the defaults.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultPath()
	}
	s := Default(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var file Settings
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if file.ActiveProfile != "" {
		s.ActiveProfile = file.ActiveProfile
	}
	defaults := DefaultProfileFor(filepath.Dir(path))
	for name, p := range file.Profiles {
		if p == nil {
			p = &Profile{}
		}
		p.Name = name
		if p.Stack == "" {
			p.Stack = defaults.Stack
		}
		if p.Project == "" {
			p.Project = defaults.Project
		}
		if p.Store.Driver == "" {
			p.Store = defaults.Store
		}
		if p.ArtifactRoot == "" {
			p.ArtifactRoot = defaults.ArtifactRoot
		}
		s.Profiles[name] = p
	}
	return s, nil
}

// Path is the file the settings were loaded from.
func (s *Settings) Path() string { return s.path }

// Profile returns the named profile. An empty name selects $MLPIPE_PROFILE,
// then the active profile.
func (s *Settings) Profile(name string) (*Profile, error) {
	if name == "" {
		name = os.Getenv(EnvProfile)
	}
	if name == "" {
		name = s.ActiveProfile
	}
	p, ok := s.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("no such profile: '%s' (available: %s)", name, strings.Join(s.ProfileNames(), ", "))
	}
	return p, nil
}

// ProfileNames returns all profile names, sorted.
func (s *Settings) ProfileNames() []string {
	names := make([]string, 0, len(s.Profiles))
	for n := range s.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Save writes the settings back to Path, creating the directory if needed.
func (s *Settings) Save() error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
