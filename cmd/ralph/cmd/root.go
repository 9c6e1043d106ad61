// Package cmd wires ralph-tui's cobra command tree: run (with --resume),
// status, cancel, init, and version, over the Sequential Engine and
// Parallel Executor. The CLI is ambient plumbing around those engines, not
// a subsystem in its own right; it composes the ports the engine and
// executor packages define.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes: 0 completed; 1 running or paused; 2 failed or
// no session.
const (
	ExitCompleted = 0
	ExitRunningOrPaused = 1
	ExitFailedOrNone = 2
)

var (
	cfgFile string
	logLevel string
	logFormat string

	appVersion string
	appCommit string
	appDate string
)

var rootCmd = &cobra.Command{
	Use: "ralph",
	Short: "Drive AI coding agents through a tracked task queue",
	Long: `ralph-tui is an autonomous execution loop that drives external AI coding
assistant CLIs through a queue of tracker-managed tasks, with optional
parallel execution across isolated git worktrees and automatic merging
back to a session branch.

It runs until the task source reports completion, an iteration limit is
hit, or the operator interrupts it.`,
	SilenceUsage: true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .ralph-tui/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"log format (auto, text, json)")
}

// Execute runs the command tree and returns the process exit code,
// mapping cobra/runtime errors to ExitFailedOrNone rather than a bare
// os.Exit(1) so every exit path goes through the same table.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if code, ok := exitCodeOf(err); ok {
			return code
		}
		return ExitFailedOrNone
	}
	return ExitCompleted
}

// SetVersion injects build-time version metadata, mirrored into the
// "version" subcommand.
func SetVersion(version, commit, date string) {
	appVersion, appCommit, appDate = version, commit, date
}
