package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// ConfigDirName is the directory a loaded config file lives under,
// relative to the project root.
const ConfigDirName = ".ralph-tui"

// ConfigFileName is the operator-editable config file within ConfigDirName.
const ConfigFileName = "config.toml"

// Loader loads configuration from defaults, a config file, and the
// environment, in that order of increasing precedence.
type Loader struct {
	v *viper.Viper
	configFile string
	envPrefix string
	projectDir string
	mu sync.Mutex
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
		envPrefix: "RALPH",
	}
}

// WithConfigFile sets an explicit config file path, overriding the
// default <cwd>/.ralph-tui/config.toml search.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithProjectDir sets the directory Load searches for .ralph-tui/config.toml
// when no explicit config file has been set.
func (l *Loader) WithProjectDir(path string) *Loader {
	l.projectDir = path
	return l
}

// Viper returns the underlying viper instance, useful for binding CLI flags.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads configuration from defaults, then the config file (if any),
// then environment variables (RALPH_*), and unmarshals the result.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		dir := l.projectDir
		if dir == "" {
			dir = "."
		}
		l.v.SetConfigFile(filepath.Join(dir, ConfigDirName, ConfigFileName))
	}
	l.v.SetConfigType("toml")

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file: defaults + env only.
		} else if os.IsNotExist(err) {
			// Explicit path that doesn't exist: same as "no config file".
		} else {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := NewValidator().Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// ConfigFilePath returns the path Load will read from, given the loader's
// current projectDir/configFile settings.
func (l *Loader) ConfigFilePath() string {
	if l.configFile != "" {
		return l.configFile
	}
	dir := l.projectDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, ConfigDirName, ConfigFileName)
}

// EnsureConfigFile writes DefaultConfigTOML to <projectDir>/.ralph-tui/config.toml
// if no config file exists yet there.
func EnsureConfigFile(projectDir string) (string, error) {
	path := filepath.Join(projectDir, ConfigDirName, ConfigFileName)

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultConfigTOML), 0o600); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("engine.max_iterations", 0)
	l.v.SetDefault("engine.max_retries", 3)
	l.v.SetDefault("engine.retry_delay", "5s")
	l.v.SetDefault("engine.error_policy", "retry")
	l.v.SetDefault("engine.agent_exec_timeout", "0s")
	l.v.SetDefault("engine.tracker_op_timeout", "30s")
	l.v.SetDefault("engine.git_op_timeout", "60s")
	l.v.SetDefault("engine.interrupt_grace", "5s")

	l.v.SetDefault("rate_limit.max_retries", 1)
	l.v.SetDefault("rate_limit.backoff_ceiling", "2m")
	l.v.SetDefault("rate_limit.fallback_agents", []string{})
	l.v.SetDefault("rate_limit.recovery_probe_interval", "1m")

	l.v.SetDefault("git.worktree_dir", filepath.Join(ConfigDirName, "worktrees"))
	l.v.SetDefault("git.max_worktrees", 4)
	l.v.SetDefault("git.min_free_disk_mb", 512)
	l.v.SetDefault("git.auto_clean", true)

	l.v.SetDefault("parallel.max_workers", 4)
	l.v.SetDefault("parallel.direct_merge", false)
	l.v.SetDefault("parallel.post_merge_validate_cmd", "")
	l.v.SetDefault("parallel.max_requeue_count", 1)

	l.v.SetDefault("state.path", "")
	l.v.SetDefault("state.lock_ttl", "1h")

	l.v.SetDefault("tracker.name", "")
	l.v.SetDefault("tracker.command", "")
	l.v.SetDefault("tracker.timeout", "30s")

	l.v.SetDefault("prompt.template_file", "")
}
