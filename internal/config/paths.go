package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Dir returns ~/.deskbridge.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".deskbridge"), nil
}

// DefaultPath returns ~/.deskbridge/config.yaml.
func DefaultPath() string {
	dir, err := Dir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "config.yaml")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// EnsureDir creates the parent directory of path with owner-only access.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0700)
}
