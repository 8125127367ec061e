package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	configDirName     = "gcalauth"
	configFileBase    = "config"
	localFileBase     = "gcalauth"
	configDirPermMode = 0o700
)

// GetConfigDir returns the configuration directory path ($XDG_CONFIG_HOME/gcalauth,
// falling back to ~/.config/gcalauth)
func GetConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDirName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", configDirName), nil
}

// DefaultConfigPaths lists the config files searched when none is given, in order.
func DefaultConfigPaths() []string {
	paths := []string{
		localFileBase + ".yaml",
		localFileBase + ".toml",
	}

	if dir, err := GetConfigDir(); err == nil {
		paths = append(paths,
			filepath.Join(dir, configFileBase+".yaml"),
			filepath.Join(dir, configFileBase+".toml"),
		)
	}

	return paths
}

// EnsureParentDir creates the directory holding path if it doesn't exist
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, configDirPermMode); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
