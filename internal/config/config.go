// Package config loads and hot-reloads ralph-tui's operator-facing
// configuration from .ralph-tui/config.toml, environment variables, and
// built-in defaults.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log LogConfig `mapstructure:"log"`
	Engine EngineConfig `mapstructure:"engine"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Agents map[string]AgentConfig `mapstructure:"agents"`
	Git GitConfig `mapstructure:"git"`
	Parallel ParallelConfig `mapstructure:"parallel"`
	State StateConfig `mapstructure:"state"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Prompt PromptConfig `mapstructure:"prompt"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File string `mapstructure:"file"`
}

// EngineConfig configures the sequential engine's iteration loop.
type EngineConfig struct {
	MaxIterations int `mapstructure:"max_iterations"` // 0 = unlimited
	MaxRetries int `mapstructure:"max_retries"`
	RetryDelay string `mapstructure:"retry_delay"`
	ErrorPolicy string `mapstructure:"error_policy"` // retry | skip | abort

	AgentExecTimeout string `mapstructure:"agent_exec_timeout"` // 0 = infinite
	TrackerOpTimeout string `mapstructure:"tracker_op_timeout"`
	GitOpTimeout string `mapstructure:"git_op_timeout"`
	InterruptGrace string `mapstructure:"interrupt_grace"`
}

// RateLimitConfig configures rate-limit backoff and fallback-agent
// switching.
type RateLimitConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
	BackoffCeiling string `mapstructure:"backoff_ceiling"`
	FallbackAgents []string `mapstructure:"fallback_agents"`
	RecoveryProbeInterval string `mapstructure:"recovery_probe_interval"`
}

// AgentConfig configures a single agent adapter.
type AgentConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Path string `mapstructure:"path"`
	Model string `mapstructure:"model"`
	PhaseModels map[string]string `mapstructure:"phase_models"`
	IdleTimeout string `mapstructure:"idle_timeout"`
}

// GitConfig configures git and worktree operations.
type GitConfig struct {
	WorktreeDir string `mapstructure:"worktree_dir"`
	MaxWorktrees int `mapstructure:"max_worktrees"`
	MinFreeDiskMB int64 `mapstructure:"min_free_disk_mb"`
	AutoClean bool `mapstructure:"auto_clean"`
}

// ParallelConfig configures the parallel executor.
type ParallelConfig struct {
	MaxWorkers int `mapstructure:"max_workers"`
	DirectMerge bool `mapstructure:"direct_merge"`
	PostMergeValidateCmd string `mapstructure:"post_merge_validate_cmd"`
	MaxRequeueCount int `mapstructure:"max_requeue_count"`
}

// StateConfig configures session state persistence.
type StateConfig struct {
	Path string `mapstructure:"path"`
	LockTTL string `mapstructure:"lock_ttl"`
}

// TrackerConfig configures the external tracker CLI the engine consumes
// through internal/tracker.ShellTracker: the tracker is always an
// external collaborator, never an in-tree backend.
type TrackerConfig struct {
	Name string `mapstructure:"name"`
	Command string `mapstructure:"command"`
	Timeout string `mapstructure:"timeout"`
	Options map[string]interface{} `mapstructure:"options"`
}

// PromptConfig configures the task prompt template.
type PromptConfig struct {
	TemplateFile string `mapstructure:"template_file"`
}

// TimeoutDuration parses TrackerConfig.Timeout, defaulting to 30s.
func (t TrackerConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(t.Timeout, 30*time.Second)
}

// RetryDelayDuration parses EngineConfig.RetryDelay, defaulting to 5s on
// an empty or malformed value.
func (e EngineConfig) RetryDelayDuration() time.Duration {
	return parseDurationOr(e.RetryDelay, 5*time.Second)
}

// AgentExecTimeoutDuration parses EngineConfig.AgentExecTimeout; 0 means
// no timeout.
func (e EngineConfig) AgentExecTimeoutDuration() time.Duration {
	return parseDurationOr(e.AgentExecTimeout, 0)
}

// TrackerOpTimeoutDuration parses EngineConfig.TrackerOpTimeout,
// defaulting to 30s
func (e EngineConfig) TrackerOpTimeoutDuration() time.Duration {
	return parseDurationOr(e.TrackerOpTimeout, 30*time.Second)
}

// GitOpTimeoutDuration parses EngineConfig.GitOpTimeout, defaulting to
// 60s
func (e EngineConfig) GitOpTimeoutDuration() time.Duration {
	return parseDurationOr(e.GitOpTimeout, 60*time.Second)
}

// InterruptGraceDuration parses EngineConfig.InterruptGrace, defaulting
// to 5s
func (e EngineConfig) InterruptGraceDuration() time.Duration {
	return parseDurationOr(e.InterruptGrace, 5*time.Second)
}

// BackoffCeilingDuration parses RateLimitConfig.BackoffCeiling.
func (r RateLimitConfig) BackoffCeilingDuration() time.Duration {
	return parseDurationOr(r.BackoffCeiling, 2*time.Minute)
}

// RecoveryProbeIntervalDuration parses RateLimitConfig.RecoveryProbeInterval.
func (r RateLimitConfig) RecoveryProbeIntervalDuration() time.Duration {
	return parseDurationOr(r.RecoveryProbeInterval, 1*time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
