package config

import "path/filepath"

func applyDefaults(cfg *Config) {
	if cfg.Workspace.SessionsDir == "" && cfg.Workspace.Path != "" {
		cfg.Workspace.SessionsDir = filepath.Join(cfg.Workspace.Path, "sessions")
	}
	if cfg.Scheduler.Type == "" {
		cfg.Scheduler.Type = "legacy"
	}
	if cfg.Scheduler.RunTimeoutSeconds == 0 {
		cfg.Scheduler.RunTimeoutSeconds = 1800
	}
	if cfg.Agents.MaxIdleMinutes == 0 {
		cfg.Agents.MaxIdleMinutes = 30
	}
	if cfg.Agents.CleanupIntervalMinutes == 0 {
		cfg.Agents.CleanupIntervalMinutes = 5
	}
	if cfg.Agents.ApprovalMode == "" {
		cfg.Agents.ApprovalMode = "autonomous"
	}
	if cfg.Agents.ApprovalWaitSeconds == 0 {
		cfg.Agents.ApprovalWaitSeconds = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
}
