// Package paths resolves where mimi keeps its configuration and its note
// database.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "mimi"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "MIMI_CONFIG_DIR"
	EnvDataDir   = "MIMI_DATA_DIR"
)

// File names inside the config directory.
const (
	ConfigFileName  = "config.yaml"
	EnvFileName     = ".env"
	VersionFileName = "last_version"
)

// platformDir holds platform lookups that tests override.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// Dirs is a resolved pair of directories.
type Dirs struct {
	Config string
	Data   string
}

// ConfigFile returns the path of config.yaml.
func (d Dirs) ConfigFile() string { return filepath.Join(d.Config, ConfigFileName) }

// EnvFile returns the path of the optional .env file.
func (d Dirs) EnvFile() string { return filepath.Join(d.Config, EnvFileName) }

// VersionFile returns the file recording the last version that ran.
func (d Dirs) VersionFile() string { return filepath.Join(d.Config, VersionFileName) }

// Ensure creates both directories.
func (d Dirs) Ensure() error {
	for _, dir := range []string{d.Config, d.Data} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// DefaultConfigDir returns the platform configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/mimi (fallback ~/.config/mimi)
// macOS:   ~/Library/Application Support/mimi
// Windows: %APPDATA%/mimi
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// DefaultDataDir returns the platform data directory.
//
// Linux:   $XDG_DATA_HOME/mimi (fallback ~/.local/share/mimi)
// macOS and Windows: the config directory.
func DefaultDataDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	}
	return DefaultConfigDir()
}

func xdgDir(env, fallback string) (string, error) {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, appName), nil
}

// ResolveConfigDir picks the configuration directory:
// flag > MIMI_CONFIG_DIR > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	return resolve(DefaultConfigDir, flag, os.Getenv(EnvConfigDir))
}

// ResolveDataDir picks the data directory:
// flag > config.yaml data_dir > MIMI_DATA_DIR > DefaultDataDir().
func ResolveDataDir(flag, configValue string) (string, error) {
	return resolve(DefaultDataDir, flag, configValue, os.Getenv(EnvDataDir))
}

// resolve returns the first non-empty candidate as an absolute path, or
// the default.
func resolve(def func() (string, error), candidates ...string) (string, error) {
	for _, c := range candidates {
		if c != "" {
			return filepath.Abs(c)
		}
	}
	return def()
}
