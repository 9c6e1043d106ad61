package config

import (
	"fmt"
	"strings"
)

// ValidationError represents one configuration validation failure.
type ValidationError struct {
	Field string
	Value interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether any validation errors were collected.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates a loaded Config.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate checks cfg against permanent-error class (invalid
// config terminates the session before any agent runs).
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateEngine(&cfg.Engine)
	v.validateAgents(cfg.Agents)
	v.validateGit(&cfg.Git)
	v.validateParallel(&cfg.Parallel)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "invalid log level (valid: debug, info, warn, error)")
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "invalid log format (valid: auto, text, json)")
	}
}

func (v *Validator) validateEngine(cfg *EngineConfig) {
	if cfg.MaxIterations < 0 {
		v.addError("engine.max_iterations", cfg.MaxIterations, "must be >= 0 (0 = unlimited)")
	}
	if cfg.MaxRetries < 0 {
		v.addError("engine.max_retries", cfg.MaxRetries, "must be >= 0")
	}
	switch cfg.ErrorPolicy {
	case "retry", "skip", "abort":
	default:
		v.addError("engine.error_policy", cfg.ErrorPolicy, "invalid error policy (valid: retry, skip, abort)")
	}
}

func (v *Validator) validateAgents(agents map[string]AgentConfig) {
	for name, a := range agents {
		if a.Enabled && strings.TrimSpace(a.Path) == "" {
			v.addError(fmt.Sprintf("agents.%s.path", name), a.Path, "enabled agent requires a non-empty path")
		}
	}
}

func (v *Validator) validateGit(cfg *GitConfig) {
	if strings.TrimSpace(cfg.WorktreeDir) == "" {
		v.addError("git.worktree_dir", cfg.WorktreeDir, "must not be empty")
	}
	if cfg.MaxWorktrees < 0 {
		v.addError("git.max_worktrees", cfg.MaxWorktrees, "must be >= 0")
	}
}

func (v *Validator) validateParallel(cfg *ParallelConfig) {
	if cfg.MaxWorkers < 0 {
		v.addError("parallel.max_workers", cfg.MaxWorkers, "must be >= 0")
	}
	if cfg.MaxRequeueCount < 0 {
		v.addError("parallel.max_requeue_count", cfg.MaxRequeueCount, "must be >= 0")
	}
}
