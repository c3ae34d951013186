package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns where persistent writer histories live when the
// configuration names no directory. XDG_DATA_HOME wins; then the system
// state dir, the macOS and Windows per-user dirs, and finally ~/.rtps.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "rtps")
	}
	candidates := []struct{ probe, dir string }{
		{"/var/lib", "/var/lib/rtps"},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "RTPS")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "RTPS")},
	}
	for _, c := range candidates {
		if isDir(c.probe) {
			return c.dir
		}
	}
	return filepath.Join(home, ".rtps")
}

// DataDir is the configured storage directory or DefaultDataDir.
func (c Config) DataDir() string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	return DefaultDataDir()
}

// StorePath is the pebble directory under the data dir.
func (c Config) StorePath() string { return filepath.Join(c.DataDir(), "store") }

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
