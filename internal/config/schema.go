// Package config provides configuration loading and validation for schedbot.
// It supports TOML configuration files with environment variable expansion,
// default values, and validation.
//
// Configuration structure:
//   - [workspace]: Workspace directory holding the job store, recipe
//     snapshots and session files
//   - [scheduler]: Backend selection and execution behavior
//   - [temporal]: External workflow service settings
//   - [agents]: Agent manager lifecycle and approval settings
//   - [provider]: Model provider selection
//   - [logging]: Logging level, format, and output
//
// Environment variables can be referenced using ${VAR} or ${VAR:default}
// syntax, for example: bin_path = "${SCHEDBOT_TEMPORAL_BIN:temporald}".
package config

// Config represents the main application configuration.
type Config struct {
	Workspace WorkspaceConfig `toml:"workspace"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Temporal  TemporalConfig  `toml:"temporal"`
	Agents    AgentsConfig    `toml:"agents"`
	Provider  ProviderConfig  `toml:"provider"`
	Logging   LoggingConfig   `toml:"logging"`
}

// WorkspaceConfig locates all persistent state.
type WorkspaceConfig struct {
	Path        string `toml:"path"`
	SessionsDir string `toml:"sessions_dir"` // defaults to <path>/sessions
}

// SchedulerConfig selects and tunes the backend.
type SchedulerConfig struct {
	Type                  string `toml:"type"` // legacy, temporal; env override wins
	AllowConcurrentRunNow bool   `toml:"allow_concurrent_run_now"`
	RunTimeoutSeconds     int    `toml:"run_timeout_seconds"`
}

// TemporalConfig tunes the external workflow service client.
type TemporalConfig struct {
	Port    int    `toml:"port"`
	BinPath string `toml:"bin_path"`
}

// AgentsConfig tunes the agent manager.
type AgentsConfig struct {
	MaxIdleMinutes         int      `toml:"max_idle_minutes"`
	CleanupIntervalMinutes int      `toml:"cleanup_interval_minutes"`
	ApprovalMode           string   `toml:"approval_mode"` // autonomous, bubble_all, bubble_filtered
	ApprovalTools          []string `toml:"approval_tools"`
	ApprovalWaitSeconds    int      `toml:"approval_wait_seconds"`
}

// ProviderConfig selects the model provider.
type ProviderConfig struct {
	Name  string `toml:"name"`
	Model string `toml:"model"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}
