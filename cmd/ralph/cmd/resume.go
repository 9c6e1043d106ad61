package cmd

import (
	"syscall"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused session in this directory",
	Long: `resume signals SIGUSR2 to the process that holds session.lock,
waking a Run loop blocked on a prior "ralph pause". It does not itself
start a new process; use "ralph run --resume" for that.`,
	RunE: runResumeCmd,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResumeCmd(_ *cobra.Command, _ []string) error {
	return signalLockHolder(syscall.SIGUSR2, "resume")
}
