// Package config loads gcalauth settings from an optional YAML or TOML file.
// Environment variables and flags are layered on top by the CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCredentialsPath = "credentials.json"
	DefaultTokenPath       = "user_token.json"
)

// Config holds every setting the CLI understands.
type Config struct {
	CredentialsPath string        `yaml:"credentials_path" toml:"credentials_path"`
	TokenPath       string        `yaml:"token_path" toml:"token_path"`
	RedirectURI     string        `yaml:"redirect_uri" toml:"redirect_uri"` // empty means the auth package default
	NoBrowser       bool          `yaml:"no_browser" toml:"no_browser"`
	Timeout         time.Duration `yaml:"timeout" toml:"timeout"` // zero waits forever
	Verify          bool          `yaml:"verify" toml:"verify"`
	APIEndpoint     string        `yaml:"api_endpoint" toml:"api_endpoint"`
	LogLevel        string        `yaml:"log_level" toml:"log_level"`
	LogFormat       string        `yaml:"log_format" toml:"log_format"`

	// Source is the file the config was read from, empty when defaults only.
	Source string `yaml:"-" toml:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		CredentialsPath: DefaultCredentialsPath,
		TokenPath:       DefaultTokenPath,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load returns the defaults overlaid with a config file. With an explicit path the
// file must exist; otherwise the first existing entry of DefaultConfigPaths is used,
// and having none is fine.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range DefaultConfigPaths() {
			if FileExists(candidate) {
				path = candidate
				break
			}
		}
		if path == "" {
			return cfg, nil
		}
	}

	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
	return nil
}
