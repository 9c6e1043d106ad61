// Package testing provides in-memory fakes of the core ports, for use
// only from other packages' unit tests.
package testing

import (
	"context"
	"sort"
	"sync"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// MemoryTracker is a minimal in-memory core.Tracker backed by a map,
// sufficient to exercise the engine and state packages without a real
// tracker CLI.
type MemoryTracker struct {
	mu sync.Mutex
	tasks map[core.TaskID]*core.Task
}

// NewMemoryTracker returns a MemoryTracker seeded with tasks.
func NewMemoryTracker(tasks...*core.Task) *MemoryTracker {
	m := &MemoryTracker{tasks: make(map[core.TaskID]*core.Task)}
	for _, t := range tasks {
		cp := *t
		m.tasks[t.ID] = &cp
	}
	return m
}

var _ core.Tracker = (*MemoryTracker)(nil)

func (m *MemoryTracker) Initialize(ctx context.Context, config map[string]interface{}) error {
	return nil
}

func (m *MemoryTracker) GetTasks(ctx context.Context, filter *core.TaskFilter) ([]*core.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*core.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if filter == nil || filter.Matches(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryTracker) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryTracker) GetNextTask(ctx context.Context, filter *core.TaskFilter) (*core.Task, error) {
	tasks, err := m.GetTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	return core.SelectNext(tasks), nil
}

func (m *MemoryTracker) UpdateTaskStatus(ctx context.Context, id core.TaskID, status core.TaskStatus) (*core.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, core.ErrNotFound("task", string(id))
	}
	t.Status = status
	cp := *t
	return &cp, nil
}

func (m *MemoryTracker) CompleteTask(ctx context.Context, id core.TaskID, reason string) (*core.CompleteTaskResult, error) {
	if _, err := m.UpdateTaskStatus(ctx, id, core.TaskStatusCompleted); err != nil {
		return nil, err
	}
	return &core.CompleteTaskResult{Success: true, Message: reason}, nil
}

func (m *MemoryTracker) IsComplete(ctx context.Context, filter *core.TaskFilter) (bool, error) {
	tasks, err := m.GetTasks(ctx, filter)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			return false, nil
		}
	}
	return true, nil
}

func (m *MemoryTracker) GetEpics(ctx context.Context) ([]*core.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*core.Task
	for _, t := range m.tasks {
		if t.ParentID == "" {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryTracker) GetPrdContext(ctx context.Context) (*core.PrdContext, error) {
	return nil, nil
}
