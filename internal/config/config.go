package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML configuration file, applies defaults, and
// expands ${VAR} / ${VAR:default} references in string values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	expandEnvVars(&cfg)

	return &cfg, nil
}

// Validate checks the configuration and returns all problems found.
func (c *Config) Validate() []error {
	var errs []error

	if c.Workspace.Path == "" {
		errs = append(errs, fmt.Errorf("workspace.path is required"))
	}

	switch strings.ToLower(c.Scheduler.Type) {
	case "legacy", "temporal":
	default:
		errs = append(errs, fmt.Errorf("invalid scheduler.type: %s (expected: legacy, temporal)", c.Scheduler.Type))
	}

	switch strings.ToLower(c.Agents.ApprovalMode) {
	case "autonomous", "bubble_all", "bubble_filtered":
	default:
		errs = append(errs, fmt.Errorf("invalid agents.approval_mode: %s (expected: autonomous, bubble_all, bubble_filtered)", c.Agents.ApprovalMode))
	}
	if strings.ToLower(c.Agents.ApprovalMode) == "bubble_filtered" && len(c.Agents.ApprovalTools) == 0 {
		errs = append(errs, fmt.Errorf("agents.approval_tools cannot be empty with bubble_filtered mode"))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}

	return errs
}

// expandEnvVars replaces ${VAR} and ${VAR:default} references in all string
// configuration values.
func expandEnvVars(cfg *Config) {
	fields := []*string{
		&cfg.Workspace.Path,
		&cfg.Workspace.SessionsDir,
		&cfg.Scheduler.Type,
		&cfg.Temporal.BinPath,
		&cfg.Provider.Name,
		&cfg.Provider.Model,
		&cfg.Logging.Level,
		&cfg.Logging.Format,
		&cfg.Logging.Output,
	}
	for _, f := range fields {
		*f = expand(*f)
	}
	for i := range cfg.Agents.ApprovalTools {
		cfg.Agents.ApprovalTools[i] = expand(cfg.Agents.ApprovalTools[i])
	}
}

// expand substitutes ${VAR} and ${VAR:default} in s.
func expand(s string) string {
	return os.Expand(s, func(key string) string {
		name := key
		fallback := ""
		if idx := strings.Index(key, ":"); idx >= 0 {
			name = key[:idx]
			fallback = key[idx+1:]
		}
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return fallback
	})
}
