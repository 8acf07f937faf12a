package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON or an invalid result is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Project config has the highest precedence
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalPath is $XDG_CONFIG_HOME/buildqueue/config.json.
func GlobalPath() string {
	return filepath.Join(xdg.ConfigHome, "buildqueue", "config.json")
}

// ProjectPath is .buildqueue/config.json relative to the working directory.
func ProjectPath() string {
	return filepath.Join(".buildqueue", "config.json")
}

// ResolvedPath returns the configured history database, or
// $XDG_DATA_HOME/buildqueue/history.db with its directory created.
func (h HistoryConfig) ResolvedPath() (string, error) {
	if h.Path != "" {
		return h.Path, nil
	}
	path, err := xdg.DataFile(filepath.Join("buildqueue", "history.db"))
	if err != nil {
		return "", fmt.Errorf("resolving history path: %w", err)
	}
	return path, nil
}

// mergeConfigFile reads a JSON config file and merges it into base.
// Map entries replace entries with the same key; scalars replace the base
// value when set.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for name, node := range loaded.Nodes {
		base.Nodes[name] = node
	}
	for name, job := range loaded.Jobs {
		base.Jobs[name] = job
	}

	if loaded.Queue.MaintainInterval != 0 {
		base.Queue.MaintainInterval = loaded.Queue.MaintainInterval
	}
	if loaded.Queue.DefaultQuietPeriod != 0 {
		base.Queue.DefaultQuietPeriod = loaded.Queue.DefaultQuietPeriod
	}
	if loaded.History.Path != "" {
		base.History.Path = loaded.History.Path
	}

	r := loaded.Retry
	if r.InitialInterval != 0 {
		base.Retry.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval != 0 {
		base.Retry.MaxInterval = r.MaxInterval
	}
	if r.MaxElapsedTime != 0 {
		base.Retry.MaxElapsedTime = r.MaxElapsedTime
	}
	if r.FailureThreshold != 0 {
		base.Retry.FailureThreshold = r.FailureThreshold
	}
	if r.OpenTimeout != 0 {
		base.Retry.OpenTimeout = r.OpenTimeout
	}
	return nil
}
