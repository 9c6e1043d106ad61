package state

import (
	"context"
	"fmt"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// Reconcile implements the crash-reconciliation contract:
// when a prior session loaded with status "running", every task in
// activatedTaskIds is returned to "open" through the tracker before new
// work begins, then the session status transitions to "interrupted".
//
// It is a no-op, returning s unchanged, if s.Status is not "running".
func Reconcile(ctx context.Context, tracker core.Tracker, s *core.SessionState) error {
	if s.Status != core.SessionStatusRunning {
		return nil
	}

	for _, taskID := range s.ActivatedTaskIDs {
		if _, err := tracker.UpdateTaskStatus(ctx, taskID, core.TaskStatusOpen); err != nil {
			return fmt.Errorf("reconciling task %s to open: %w", taskID, err)
		}
	}
	s.ActivatedTaskIDs = nil

	return s.Transition(core.SessionStatusInterrupted)
}
