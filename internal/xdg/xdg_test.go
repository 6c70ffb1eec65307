package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	t.Setenv("XDG_STATE_HOME", "relative/ignored")
	t.Setenv("XDG_CONFIG_DIRS", "/a"+string(filepath.ListSeparator)+"/b")

	d := New()
	assert.Equal(t, "/custom/config", d.ConfigHome())
	assert.Equal(t, filepath.Join(home, ".local", "state"), d.StateHome())
	assert.Equal(t, []string{"/custom/config", "/a", "/b"}, d.ConfigDirs())
	assert.Equal(t, "/custom/config/autograder", d.AppConfigDir("autograder"))
}

func TestFindConfig(t *testing.T) {
	user, system := t.TempDir(), t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", user)
	t.Setenv("XDG_CONFIG_DIRS", system)

	d := New()
	assert.Empty(t, d.FindConfig("autograder", "config.toml"))

	path := filepath.Join(system, "autograder", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
	assert.Equal(t, path, d.FindConfig("autograder", "config.toml"))

	own := filepath.Join(user, "autograder", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(own), 0o755))
	require.NoError(t, os.WriteFile(own, []byte(""), 0o644))
	assert.Equal(t, own, d.FindConfig("autograder", "config.toml"))
}
