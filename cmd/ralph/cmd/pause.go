package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ralph-tui/ralph-tui/internal/state"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running session in this directory at its next iteration boundary",
	Long: `pause signals SIGUSR1 to the process that holds session.lock. The
in-flight agent run is never torn down; the session transitions to Paused
once the current iteration (or worker group, under --parallel) finishes.
Poll with "ralph status" and send "ralph resume" to continue.`,
	RunE: runPause,
}

func init() {
	rootCmd.AddCommand(pauseCmd)
}

func runPause(_ *cobra.Command, _ []string) error {
	return signalLockHolder(syscall.SIGUSR1, "pause")
}

func signalLockHolder(sig syscall.Signal, verb string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return exitErr(ExitFailedOrNone, "resolving working directory: %w", err)
	}

	stateMgr := state.NewManager(cwd)
	pid, live, ok, err := stateMgr.LockHolderPID()
	if err != nil {
		return exitErr(ExitFailedOrNone, "reading session lock: %w", err)
	}
	if !ok {
		return exitErr(ExitFailedOrNone, "no session.lock in this directory; nothing is running")
	}
	if !live {
		return exitErr(ExitFailedOrNone, "session.lock holder (pid %d) is not running", pid)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return exitErr(ExitFailedOrNone, "finding process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return exitErr(ExitFailedOrNone, "signaling process %d: %w", pid, err)
	}

	fmt.Printf("sent %s to pid %d\n", verb, pid)
	return nil
}
