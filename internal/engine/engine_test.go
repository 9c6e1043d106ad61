package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/core"
	"github.com/ralph-tui/ralph-tui/internal/events"
	"github.com/ralph-tui/ralph-tui/internal/logging"
)

// --- fakes ---------------------------------------------------------------

type fakeTracker struct {
	mu        sync.Mutex
	tasks     map[core.TaskID]*core.Task
	completed map[core.TaskID]bool
}

func newFakeTracker(tasks ...*core.Task) *fakeTracker {
	t := &fakeTracker{tasks: make(map[core.TaskID]*core.Task), completed: make(map[core.TaskID]bool)}
	for _, task := range tasks {
		t.tasks[task.ID] = task
	}
	return t
}

func (f *fakeTracker) Initialize(ctx context.Context, config map[string]interface{}) error { return nil }

func (f *fakeTracker) GetTasks(ctx context.Context, filter *core.TaskFilter) ([]*core.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.Task
	for _, t := range f.tasks {
		if filter == nil || filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTracker) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id], nil
}

func (f *fakeTracker) GetNextTask(ctx context.Context, filter *core.TaskFilter) (*core.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var candidates []*core.Task
	for _, t := range f.tasks {
		if !f.completed[t.ID] && t.Status != core.TaskStatusBlocked && (filter == nil || filter.Matches(t)) {
			candidates = append(candidates, t)
		}
	}
	return core.SelectNext(candidates), nil
}

func (f *fakeTracker) UpdateTaskStatus(ctx context.Context, id core.TaskID, status core.TaskStatus) (*core.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, core.ErrNotFound("task", string(id))
	}
	t.Status = status
	return t, nil
}

func (f *fakeTracker) CompleteTask(ctx context.Context, id core.TaskID, reason string) (*core.CompleteTaskResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[id]; ok {
		t.Status = core.TaskStatusCompleted
	}
	f.completed[id] = true
	return &core.CompleteTaskResult{Success: true}, nil
}

func (f *fakeTracker) IsComplete(ctx context.Context, filter *core.TaskFilter) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if !f.completed[t.ID] && t.Status != core.TaskStatusBlocked {
			return false, nil
		}
	}
	return true, nil
}

func (f *fakeTracker) GetEpics(ctx context.Context) ([]*core.Task, error) { return nil, nil }

func (f *fakeTracker) GetPrdContext(ctx context.Context) (*core.PrdContext, error) { return nil, nil }

var _ core.Tracker = (*fakeTracker)(nil)

type fakeHandle struct {
	events chan core.DisplayEvent
	result *core.ExecutionResult
}

func (h *fakeHandle) Events() <-chan core.DisplayEvent { return h.events }
func (h *fakeHandle) Wait(ctx context.Context) (*core.ExecutionResult, error) {
	return h.result, nil
}
func (h *fakeHandle) Interrupt(ctx context.Context) error { return nil }
func (h *fakeHandle) Kill() error                         { return nil }

var _ core.ExecutionHandle = (*fakeHandle)(nil)

type fakeAdapter struct {
	id          string
	nextResult  *core.ExecutionResult
	executeErr  error
	detectAvail bool
	executeFn   func(prompt string) *core.ExecutionResult
}

func (a *fakeAdapter) Meta() core.AgentMeta { return core.AgentMeta{ID: a.id, Name: a.id} }
func (a *fakeAdapter) Detect(ctx context.Context) (*core.AgentDetectResult, error) {
	return &core.AgentDetectResult{Available: a.detectAvail}, nil
}
func (a *fakeAdapter) Execute(ctx context.Context, prompt string, opts core.ExecuteOptions) (core.ExecutionHandle, error) {
	if a.executeErr != nil {
		return nil, a.executeErr
	}
	res := a.nextResult
	if a.executeFn != nil {
		res = a.executeFn(prompt)
	}
	ch := make(chan core.DisplayEvent)
	close(ch)
	return &fakeHandle{events: ch, result: res}, nil
}
func (a *fakeAdapter) GetSandboxRequirements() core.SandboxRequirements { return core.SandboxRequirements{} }
func (a *fakeAdapter) ValidateModel(model string) error                { return nil }

var _ core.AgentAdapter = (*fakeAdapter)(nil)

type fakeRegistry struct {
	adapters map[string]core.AgentAdapter
}

func newFakeRegistry(adapters ...*fakeAdapter) *fakeRegistry {
	r := &fakeRegistry{adapters: make(map[string]core.AgentAdapter)}
	for _, a := range adapters {
		r.adapters[a.id] = a
	}
	return r
}

func (r *fakeRegistry) Register(id string, adapter core.AgentAdapter) error {
	r.adapters[id] = adapter
	return nil
}
func (r *fakeRegistry) Get(id string) (core.AgentAdapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, core.ErrPermanent(core.CodeUnknownPlugin, "unknown agent")
	}
	return a, nil
}
func (r *fakeRegistry) List() []string {
	var out []string
	for id := range r.adapters {
		out = append(out, id)
	}
	return out
}
func (r *fakeRegistry) Available(ctx context.Context) []string {
	var out []string
	for id, a := range r.adapters {
		if fa, ok := a.(*fakeAdapter); ok && fa.detectAvail {
			out = append(out, id)
		}
	}
	return out
}

var _ core.AgentRegistry = (*fakeRegistry)(nil)

type fakeState struct {
	mu       sync.Mutex
	session  *core.SessionState
	progress []string
}

func newFakeState() *fakeState { return &fakeState{} }

func (s *fakeState) Save(ctx context.Context, state *core.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.session = &cp
	return nil
}
func (s *fakeState) Load(ctx context.Context) (*core.SessionState, error) { return s.session, nil }
func (s *fakeState) SaveParallel(ctx context.Context, state *core.ParallelSessionState) error {
	return nil
}
func (s *fakeState) LoadParallel(ctx context.Context) (*core.ParallelSessionState, error) {
	return nil, nil
}
func (s *fakeState) AcquireLock(ctx context.Context) error { return nil }
func (s *fakeState) ReleaseLock(ctx context.Context) error { return nil }
func (s *fakeState) Exists() bool                          { return s.session != nil }
func (s *fakeState) AppendProgress(ctx context.Context, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, entry)
	return nil
}

var _ core.StateManager = (*fakeState)(nil)

type fakeProgress struct{ content string }

func (p *fakeProgress) Read() (string, error) { return p.content, nil }

func testDeps(tracker core.Tracker, registry core.AgentRegistry, state core.StateManager) Deps {
	return Deps{
		Tracker:  tracker,
		Agents:   registry,
		State:    state,
		Progress: &fakeProgress{},
		Bus:      events.New(32),
		Log:      logging.NewNop(),
		Template: "{{task_title}}",
		Engine: config.EngineConfig{
			MaxIterations: 10,
			MaxRetries:    2,
			ErrorPolicy:   "retry",
			RetryDelay:    "1ms",
		},
		RateLimit: config.RateLimitConfig{
			MaxRetries:            1,
			BackoffCeiling:        "10ms",
			RecoveryProbeInterval: "1h",
		},
	}
}

// --- tests -----------------------------------------------------------------

func TestEngine_CompletesTaskOnPromiseMarker(t *testing.T) {
	task := &core.Task{ID: "T1", Title: "do the thing", Status: core.TaskStatusOpen}
	tracker := newFakeTracker(task)
	adapter := &fakeAdapter{id: "claude", detectAvail: true, nextResult: &core.ExecutionResult{
		Status: core.ExecutionStatusCompleted,
		Stdout: "working...\n<promise>COMPLETE</promise>",
	}}
	registry := newFakeRegistry(adapter)
	state := newFakeState()

	session := core.NewSessionState("sess-1", t.TempDir(), "linear", "claude", 5)
	e := New(testDeps(tracker, registry, state), session)

	status, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.SessionStatusCompleted, status)
	require.Equal(t, core.TaskStatusCompleted, task.Status)
	require.Len(t, session.Iterations, 1)
	require.True(t, session.Iterations[0].TaskCompleted)
}

func TestEngine_SkipsAfterRetriesExhaustedWithoutMarker(t *testing.T) {
	task := &core.Task{ID: "T1", Title: "never finishes", Status: core.TaskStatusOpen}
	tracker := newFakeTracker(task)
	adapter := &fakeAdapter{id: "claude", detectAvail: true, nextResult: &core.ExecutionResult{
		Status: core.ExecutionStatusCompleted,
		Stdout: "still working, never done",
	}}
	registry := newFakeRegistry(adapter)
	state := newFakeState()

	session := core.NewSessionState("sess-1", t.TempDir(), "linear", "claude", 10)
	deps := testDeps(tracker, registry, state)
	deps.Engine.MaxRetries = 1
	e := New(deps, session)

	status, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.SessionStatusCompleted, status)
	require.Equal(t, core.TaskStatusBlocked, task.Status)
	require.Contains(t, session.SkippedTaskIDs, core.TaskID("T1"))
}

func TestEngine_AgentLaunchFailureIsFatal(t *testing.T) {
	task := &core.Task{ID: "T1", Title: "x", Status: core.TaskStatusOpen}
	tracker := newFakeTracker(task)
	adapter := &fakeAdapter{id: "claude", detectAvail: true, executeErr: core.ErrPermanent(core.CodeMissingTrackerCLI, "no cli")}
	registry := newFakeRegistry(adapter)
	state := newFakeState()

	session := core.NewSessionState("sess-1", t.TempDir(), "linear", "claude", 10)
	e := New(testDeps(tracker, registry, state), session)

	status, err := e.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, core.SessionStatusFailed, status)
}

func TestEngine_RateLimitSwitchesToFallback(t *testing.T) {
	task := &core.Task{ID: "T1", Title: "x", Status: core.TaskStatusOpen}
	tracker := newFakeTracker(task)

	primary := &fakeAdapter{id: "claude", detectAvail: true, nextResult: &core.ExecutionResult{
		Status: core.ExecutionStatusRateLimited,
	}}
	fallback := &fakeAdapter{id: "gemini", detectAvail: true, nextResult: &core.ExecutionResult{
		Status: core.ExecutionStatusCompleted,
		Stdout: "<promise>complete</promise>",
	}}
	registry := newFakeRegistry(primary, fallback)
	state := newFakeState()

	session := core.NewSessionState("sess-1", t.TempDir(), "linear", "claude", 10)
	deps := testDeps(tracker, registry, state)
	deps.RateLimit.MaxRetries = 0
	deps.RateLimit.FallbackAgents = []string{"gemini"}
	e := New(deps, session)

	status, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.SessionStatusCompleted, status)
	require.Equal(t, "gemini", e.activeAgent.Plugin)
	require.Equal(t, core.AgentReasonFallback, e.activeAgent.Reason)
}

func TestEngine_PauseThenResume(t *testing.T) {
	task1 := &core.Task{ID: "T1", Title: "first", Status: core.TaskStatusOpen, Priority: 0}
	task2 := &core.Task{ID: "T2", Title: "second", Status: core.TaskStatusOpen, Priority: 1}
	tracker := newFakeTracker(task1, task2)

	var calls int
	adapter := &fakeAdapter{id: "claude", detectAvail: true, executeFn: func(prompt string) *core.ExecutionResult {
		calls++
		return &core.ExecutionResult{Status: core.ExecutionStatusCompleted, Stdout: "<promise>complete</promise>"}
	}}
	registry := newFakeRegistry(adapter)
	state := newFakeState()

	session := core.NewSessionState("sess-1", t.TempDir(), "linear", "claude", 10)
	e := New(testDeps(tracker, registry, state), session)

	e.Pause()
	done := make(chan struct{})
	go func() {
		_, _ = e.Run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, calls)
	e.Resume()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not finish after resume")
	}
	require.Equal(t, 2, calls)
}
