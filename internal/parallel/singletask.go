package parallel

import (
	"context"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// singleTaskTracker decorates a shared core.Tracker so a worker's
// Sequential Engine only ever sees the one task it was assigned:
// GetNextTask/GetTasks/IsComplete are narrowed to that TaskID, everything
// else (status transitions, completion, PRD context) passes through to
// the real tracker untouched. This lets internal/engine.Engine run
// unmodified inside a parallel worker.
type singleTaskTracker struct {
	core.Tracker
	taskID core.TaskID
}

func newSingleTaskTracker(t core.Tracker, taskID core.TaskID) *singleTaskTracker {
	return &singleTaskTracker{Tracker: t, taskID: taskID}
}

func (s *singleTaskTracker) GetTasks(ctx context.Context, filter *core.TaskFilter) ([]*core.Task, error) {
	task, err := s.Tracker.GetTask(ctx, s.taskID)
	if err != nil || task == nil {
		return nil, err
	}
	if filter != nil && !filter.Matches(task) {
		return nil, nil
	}
	return []*core.Task{task}, nil
}

func (s *singleTaskTracker) GetNextTask(ctx context.Context, filter *core.TaskFilter) (*core.Task, error) {
	task, err := s.Tracker.GetTask(ctx, s.taskID)
	if err != nil || task == nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, nil
	}
	if filter != nil && !filter.Matches(task) {
		return nil, nil
	}
	return task, nil
}

func (s *singleTaskTracker) IsComplete(ctx context.Context, filter *core.TaskFilter) (bool, error) {
	task, err := s.Tracker.GetTask(ctx, s.taskID)
	if err != nil {
		return false, err
	}
	if task == nil {
		return true, nil
	}
	return task.Status.IsTerminal(), nil
}
