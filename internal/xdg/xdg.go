// Package xdg resolves XDG base directories.
package xdg

import (
	"os"
	"path/filepath"
)

// Dirs holds the base directories of the current user
type Dirs struct {
	configHome string
	stateHome  string
	configDirs []string
}

// New reads the XDG_* variables, falling back to the XDG defaults
func New() *Dirs {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
		if home == "" {
			home = os.TempDir()
		}
	}

	d := &Dirs{
		configHome: envOr("XDG_CONFIG_HOME", filepath.Join(home, ".config")),
		stateHome:  envOr("XDG_STATE_HOME", filepath.Join(home, ".local", "state")),
		configDirs: []string{"/etc/xdg"},
	}
	if v := os.Getenv("XDG_CONFIG_DIRS"); v != "" {
		d.configDirs = filepath.SplitList(v)
	}
	return d
}

func envOr(key, fallback string) string {
	// relative paths are ignored
	if v := os.Getenv(key); v != "" && filepath.IsAbs(v) {
		return v
	}
	return fallback
}

func (d *Dirs) ConfigHome() string { return d.configHome }

func (d *Dirs) StateHome() string { return d.stateHome }

// ConfigDirs returns the preference-ordered base directories for configuration files
func (d *Dirs) ConfigDirs() []string {
	return append([]string{d.configHome}, d.configDirs...)
}

// AppConfigDir returns the application-specific config directory
func (d *Dirs) AppConfigDir(app string) string {
	return filepath.Join(d.configHome, app)
}

// FindConfig returns the first existing app/name under the config
// directories, or "" when there is none.
func (d *Dirs) FindConfig(app, name string) string {
	for _, dir := range d.ConfigDirs() {
		path := filepath.Join(dir, app, name)
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path
		}
	}
	return ""
}
