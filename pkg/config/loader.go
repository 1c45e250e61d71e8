package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DefaultPath is tried when no explicit config path is given. A missing
// file at this path is not an error: defaults plus environment carry a dev
// setup.
const DefaultPath = "config.yaml"

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "TICKWIRE_CONFIG"

// Load reads, expands, merges and returns the configuration.
// Resolution order for the path: explicit argument, $TICKWIRE_CONFIG,
// DefaultPath. The file is optional only when it was not explicitly named.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		if env := os.Getenv(EnvConfigPath); env != "" {
			path = env
			explicit = true
		} else {
			path = DefaultPath
		}
	}

	cfg := &Config{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := ExpandEnv(raw)
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		slog.Info("Loaded configuration file", "path", path)
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		slog.Info("No configuration file found, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// File values win; defaults fill the gaps. WithoutDereference keeps a
	// pointer field set to a zero value (auto_migrate: false) from being
	// treated as unset.
	if err := mergo.Merge(cfg, Default(), mergo.WithoutDereference); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
