package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed files return an error.
// Files may contain comments and trailing commas.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// DefaultPaths returns the conventional config locations.
// Global: ~/.distrogate/config.json
// Project: .distrogate/config.json (relative to cwd)
func DefaultPaths() (globalPath, projectPath string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".distrogate", "config.json"), filepath.Join(".distrogate", "config.json"), nil
}

// LoadDefault loads configuration from the conventional paths.
func LoadDefault() (*Config, error) {
	globalPath, projectPath, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a config file and merges it into the base config.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	merge(base, &loaded)
	return nil
}

// merge overlays the non-zero fields of src onto base. Maps merge by key,
// slices replace when present.
func merge(base, src *Config) {
	if src.Repository != "" {
		base.Repository = src.Repository
	}
	if src.MatrixFile != "" {
		base.MatrixFile = src.MatrixFile
	}
	if src.Workdir != "" {
		base.Workdir = src.Workdir
	}
	if src.Concurrency > 0 {
		base.Concurrency = src.Concurrency
	}

	if src.Gate.BaseURL != "" {
		base.Gate.BaseURL = src.Gate.BaseURL
	}
	if src.Gate.TokenEnv != "" {
		base.Gate.TokenEnv = src.Gate.TokenEnv
	}
	if src.Gate.PullEnv != "" {
		base.Gate.PullEnv = src.Gate.PullEnv
	}
	if src.Gate.RepoEnv != "" {
		base.Gate.RepoEnv = src.Gate.RepoEnv
	}

	if src.Prechecks != nil {
		base.Prechecks = src.Prechecks
	}
	if src.StaticCheck.Name != "" {
		base.StaticCheck.Name = src.StaticCheck.Name
	}
	if src.StaticCheck.Run != "" {
		base.StaticCheck.Run = src.StaticCheck.Run
	}
	if src.PrimaryDistro != "" {
		base.PrimaryDistro = src.PrimaryDistro
	}
	if src.ParallelDistros != nil {
		base.ParallelDistros = src.ParallelDistros
	}

	if base.Actions == nil {
		base.Actions = make(map[string]ActionConfig)
	}
	for key, action := range src.Actions {
		base.Actions[key] = action
	}

	if src.Isolation.Worktrees {
		base.Isolation.Worktrees = true
	}
	if src.Isolation.Dir != "" {
		base.Isolation.Dir = src.Isolation.Dir
	}
	if src.Isolation.Ref != "" {
		base.Isolation.Ref = src.Isolation.Ref
	}

	if src.Breaker.MaxFailures > 0 {
		base.Breaker.MaxFailures = src.Breaker.MaxFailures
	}
	if src.Breaker.OpenTimeout > 0 {
		base.Breaker.OpenTimeout = src.Breaker.OpenTimeout
	}

	if src.Log.Level != "" {
		base.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		base.Log.Format = src.Log.Format
	}
	if src.Log.Output != "" {
		base.Log.Output = src.Log.Output
	}
	if src.Log.File != "" {
		base.Log.File = src.Log.File
	}
	if src.Log.MaxSizeMB > 0 {
		base.Log.MaxSizeMB = src.Log.MaxSizeMB
	}
	if src.Log.MaxBackups > 0 {
		base.Log.MaxBackups = src.Log.MaxBackups
	}
	if src.Log.MaxAgeDays > 0 {
		base.Log.MaxAgeDays = src.Log.MaxAgeDays
	}
}
