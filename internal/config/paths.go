package config

import (
	"os"
	"path/filepath"
)

// UserConfigDir returns ~/.shelltether, creating it if absent.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".shelltether")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
