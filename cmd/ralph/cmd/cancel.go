package cmd

import (
	"syscall"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Send an interrupt to the running session in this directory",
	Long: `cancel signals SIGINT to the process that holds session.lock, the
same signal Ctrl+C sends to a foreground run. It does not itself wait for
the session to reach Interrupted; poll with "ralph status" for that.`,
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(_ *cobra.Command, _ []string) error {
	return signalLockHolder(syscall.SIGINT, "interrupt")
}
