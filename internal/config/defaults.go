package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// DataDir returns the directory for traces and other state. KEYCORE_DATA_DIR
// overrides it.
//
// Platform paths:
//   - macOS: ~/Library/Application Support/keycore/
//   - Linux: $XDG_DATA_HOME/keycore/ or ~/.local/share/keycore/
func DataDir() string {
	if dir := os.Getenv("KEYCORE_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "keycore")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "keycore")
	}
	return filepath.Join(home, ".local", "share", "keycore")
}

// ConfigDir returns the directory searched for config files.
//
// Platform paths:
//   - macOS: ~/Library/Application Support/keycore/
//   - Linux: $XDG_CONFIG_HOME/keycore/ or ~/.config/keycore/
func ConfigDir() string {
	if runtime.GOOS == "darwin" {
		return DataDir()
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "keycore")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "keycore")
}

// RuntimeDir returns the directory for the control socket.
func RuntimeDir() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" && runtime.GOOS == "linux" {
		return filepath.Join(xdg, "keycore")
	}
	return filepath.Join(os.TempDir(), "keycore-"+strconv.Itoa(os.Getuid()))
}

// DefaultSocketPath returns the default control socket path.
func DefaultSocketPath() string {
	return filepath.Join(RuntimeDir(), "keycored.sock")
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// SupportedConfigFormats returns the accepted config file extensions.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches the working directory, then ConfigDir, for a
// config.<ext> file. It returns "" when there is none.
func FindConfigFile() string {
	for _, dir := range []string{".", ConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
