// Package paths resolves the per-user labforge config directory following XDG conventions.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// ConfigDirEnv overrides the per-user config directory.
const ConfigDirEnv = "LABFORGE_CONFIG_DIR"

// Env is the interface for environment variable lookups.
// Implementations must return "" for unset variables.
type Env interface {
	Get(key string) string
}

// OSEnv reads the process environment.
type OSEnv struct{}

// Get returns the value of key, "" if unset.
func (OSEnv) Get(key string) string {
	return os.Getenv(key)
}

// ConfigDir returns the per-user config directory.
//
// Resolution order:
//  1. LABFORGE_CONFIG_DIR env var (if set)
//  2. macOS: ~/Library/Preferences/labforge
//  3. XDG_CONFIG_HOME/labforge (if set)
//  4. ~/.config/labforge
//
// Does not touch the filesystem. ~ inside env vars is kept literally.
func ConfigDir(env Env, homeDir string) string {
	return configDirWithOS(env, homeDir, runtime.GOOS == "darwin")
}

func configDirWithOS(env Env, homeDir string, isDarwin bool) string {
	if v := env.Get(ConfigDirEnv); v != "" {
		return v
	}
	if isDarwin {
		return filepath.Join(homeDir, "Library", "Preferences", "labforge")
	}
	if v := env.Get("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "labforge")
	}
	return filepath.Join(homeDir, ".config", "labforge")
}

// UserConfigDir resolves ConfigDir for the current user and process
// environment. Returns "" when no home directory is known and no override is set.
func UserConfigDir() string {
	env := OSEnv{}
	if v := env.Get(ConfigDirEnv); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return ConfigDir(env, home)
}
