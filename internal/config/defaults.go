package config

import (
	"os"
	"path/filepath"
)

// AppName is the directory name used under the XDG base directories.
const AppName = "activewatcher"

// DataDir returns $XDG_DATA_HOME/activewatcher, defaulting to
// ~/.local/share/activewatcher.
func DataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), AppName)
}

// ConfigDir returns $XDG_CONFIG_HOME/activewatcher, defaulting to
// ~/.config/activewatcher.
func ConfigDir() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), AppName)
}

// StateDir returns $XDG_STATE_HOME/activewatcher, used for logs.
func StateDir() string {
	return filepath.Join(xdgDir("XDG_STATE_HOME", ".local", "state"), AppName)
}

// ConfigPath returns the default configuration file path.
// ACTIVEWATCHER_CONFIG_PATH overrides it.
func ConfigPath() string {
	if v := os.Getenv("ACTIVEWATCHER_CONFIG_PATH"); v != "" {
		return v
	}
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultDBPath returns the default SQLite database path.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "events.sqlite3")
}

// SupportedConfigFormats returns the file extensions Load understands.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

func xdgDir(env string, fallback ...string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}
