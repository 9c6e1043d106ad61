package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralph-tui/ralph-tui/internal/state"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use: "status",
	Short: "Show the session in this directory and exit with code",
	Long: `status reports the session.json in the current directory without
starting anything, and exits with the same code run would exit with for
that terminal status: 0 completed, 1 running/paused/interrupted, 2 failed
or no session.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return exitErr(ExitFailedOrNone, "resolving working directory: %w", err)
	}
	stateMgr := state.NewManager(cwd)
	if !stateMgr.Exists() {
		fmt.Println("no session in this directory")
		return &exitError{code: ExitFailedOrNone, err: fmt.Errorf("no session")}
	}

	session, err := stateMgr.Load(cmd.Context())
	if err != nil {
		return exitErr(ExitFailedOrNone, "loading session: %w", err)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", " ")
		if err := enc.Encode(session); err != nil {
			return exitErr(ExitFailedOrNone, "encoding session: %w", err)
		}
	} else {
		fmt.Printf("Session: %s\n", session.SessionID)
		fmt.Printf("Tracker: %s\n", session.TrackerName)
		fmt.Printf("Agent: %s\n", session.AgentName)
		fmt.Printf("Status: %s\n", session.Status)
		fmt.Printf("Iteration: %d", session.CurrentIteration)
		if session.MaxIterations > 0 {
			fmt.Printf(" / %d", session.MaxIterations)
		}
		fmt.Println()
		fmt.Printf("Updated: %s\n", session.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}

	if pid, live, ok, lerr := stateMgr.LockHolderPID(); lerr == nil && ok {
		liveness := "stale"
		if live {
			liveness = "live"
		}
		fmt.Printf("Lock: pid %d (%s)\n", pid, liveness)
	}

	return exitForStatus(session.Status)
}
