package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir picks the data directory used when none is configured.
// RELAY_DATA_DIR wins outright; otherwise standard per-OS locations are
// probed before falling back to a dotdir in the user's home.
func DefaultDataDir() string {
	if dir := os.Getenv("RELAY_DATA_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "relay")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}

	for _, c := range []struct{ probe, dir string }{
		{"/var/lib", "/var/lib/relay"},
		{filepath.Join(homeDir, "Library"), filepath.Join(homeDir, "Library", "Application Support", "Relay")},
		{filepath.Join(homeDir, "AppData"), filepath.Join(homeDir, "AppData", "Local", "Relay")},
	} {
		if isDir(c.probe) {
			return c.dir
		}
	}
	return filepath.Join(homeDir, ".relay")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
