package cmd

import (
	"fmt"

	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/logging"
)

// exitError carries the process exit code alongside the error cobra prints.
type exitError struct {
	code int
	err error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitErr(code int, format string, args ...interface{}) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

func exitCodeOf(err error) (int, bool) {
	if ee, ok := err.(*exitError); ok {
		return ee.code, true
	}
	return 0, false
}

// loadConfig loads operator config through the standard precedence
// (defaults < config file < environment), honoring --config, --log-level
// and --log-format.
func loadConfig() (*config.Config, error) {
	_, cfg, err := loadConfigWithLoader()
	return cfg, err
}

// loadConfigWithLoader is loadConfig plus the Loader it used, for callers
// (the run command's hot-reload watcher) that need to re-Load() the same
// config file later.
func loadConfigWithLoader() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}
	if logLevel != "" {
		loader.Viper().Set("log.level", logLevel)
	}
	if logFormat != "" {
		loader.Viper().Set("log.format", logFormat)
	}
	cfg, err := loader.Load()
	return loader, cfg, err
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level: cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}
