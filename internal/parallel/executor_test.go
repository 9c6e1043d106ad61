package parallel_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/core"
	"github.com/ralph-tui/ralph-tui/internal/gitx"
	"github.com/ralph-tui/ralph-tui/internal/logging"
	"github.com/ralph-tui/ralph-tui/internal/parallel"
	"github.com/ralph-tui/ralph-tui/internal/testutil"
	"github.com/ralph-tui/ralph-tui/internal/worktree"
)

// --- fakes -----------------------------------------------------------------

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

func (f *fakeTracker) Initialize(ctx context.Context, cfg map[string]interface{}) error { return nil }

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

func (f *fakeTracker) GetEpics(ctx context.Context) ([]*core.Task, error)         { return nil, nil }
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

// commitAdapter simulates a coding agent: it writes a file in opts.WorkDir
// and commits it, then reports promise-complete. This lets tests assert on
// the resulting git history rather than a mocked "it ran" signal.
type commitAdapter struct {
	id string
}

func (a *commitAdapter) Meta() core.AgentMeta { return core.AgentMeta{ID: a.id, Name: a.id} }
func (a *commitAdapter) Detect(ctx context.Context) (*core.AgentDetectResult, error) {
	return &core.AgentDetectResult{Available: true}, nil
}
func (a *commitAdapter) Execute(ctx context.Context, prompt string, opts core.ExecuteOptions) (core.ExecutionHandle, error) {
	if opts.WorkDir != "" {
		taskID := strings.TrimPrefix(prompt, "Task: ")
		file := filepath.Join(opts.WorkDir, "output-"+taskID+".txt")
		if err := os.WriteFile(file, []byte("work done by "+a.id+" on "+taskID+"\n"), 0o644); err != nil {
			return nil, err
		}
		runGit(opts.WorkDir, "add", "-A")
		runGit(opts.WorkDir, "commit", "-m", "agent commit")
	}
	ch := make(chan core.DisplayEvent)
	close(ch)
	return &fakeHandle{events: ch, result: &core.ExecutionResult{
		Status: core.ExecutionStatusCompleted,
		Stdout: "<promise>complete</promise>",
	}}, nil
}
func (a *commitAdapter) GetSandboxRequirements() core.SandboxRequirements { return core.SandboxRequirements{} }
func (a *commitAdapter) ValidateModel(model string) error                { return nil }

var _ core.AgentAdapter = (*commitAdapter)(nil)

func runGit(dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.com")
	_ = cmd.Run()
}

type fakeRegistry struct {
	adapters map[string]core.AgentAdapter
}

func newFakeRegistry(adapters ...core.AgentAdapter) *fakeRegistry {
	r := &fakeRegistry{adapters: make(map[string]core.AgentAdapter)}
	for _, a := range adapters {
		r.adapters[a.Meta().ID] = a
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
func (r *fakeRegistry) Available(ctx context.Context) []string { return r.List() }

var _ core.AgentRegistry = (*fakeRegistry)(nil)

type fakeState struct {
	mu       sync.Mutex
	parallel *core.ParallelSessionState
	progress []string
}

func newFakeState() *fakeState { return &fakeState{} }

func (s *fakeState) Save(ctx context.Context, state *core.SessionState) error { return nil }
func (s *fakeState) Load(ctx context.Context) (*core.SessionState, error)    { return nil, nil }
func (s *fakeState) SaveParallel(ctx context.Context, state *core.ParallelSessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.parallel = &cp
	return nil
}
func (s *fakeState) LoadParallel(ctx context.Context) (*core.ParallelSessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parallel, nil
}
func (s *fakeState) AcquireLock(ctx context.Context) error { return nil }
func (s *fakeState) ReleaseLock(ctx context.Context) error { return nil }
func (s *fakeState) Exists() bool                          { return false }
func (s *fakeState) AppendProgress(ctx context.Context, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, entry)
	return nil
}

var _ core.StateManager = (*fakeState)(nil)

// --- tests -------------------------------------------------------------

func newTestExecutor(t *testing.T, tasks []*core.Task, parallelCfg config.ParallelConfig) (*parallel.Executor, *testutil.GitRepo, *fakeState) {
	t.Helper()
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# test\n")
	repo.Commit("initial")

	client, err := gitx.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	wtMgr := worktree.New(client, filepath.Join(repo.Path, ".worktrees"), logging.NewNop())
	tracker := newFakeTracker(tasks...)
	registry := newFakeRegistry(&commitAdapter{id: "fake"})
	state := newFakeState()

	exec := parallel.New(parallel.Config{
		Git:       client,
		Tracker:   tracker,
		Agents:    registry,
		State:     state,
		Worktrees: wtMgr,
		Log:       logging.NewNop(),
		Template:  "Task: {{.TaskID}}",
		EngineCfg: config.EngineConfig{MaxIterations: 1},
		Parallel:  parallelCfg,
		BaseDir:   filepath.Join(repo.Path, ".worktrees"),
		SessionID: "session-0123456789",
	})
	return exec, repo, state
}

func TestExecutor_DirectMergeSingleTask(t *testing.T) {
	tasks := []*core.Task{{ID: "task-1", Status: core.TaskStatusOpen}}
	exec, repo, _ := newTestExecutor(t, tasks, config.ParallelConfig{MaxWorkers: 1, DirectMerge: true, MaxRequeueCount: 1})

	state, err := exec.Run(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, state.MergedTaskIDs, 1)
	testutil.AssertEqual(t, state.MergedTaskIDs[0], core.TaskID("task-1"))

	if _, err := os.Stat(filepath.Join(repo.Path, "output-task-1.txt")); err != nil {
		t.Fatalf("expected merged output-task-1.txt in main repo: %v", err)
	}
}

func TestExecutor_SessionBranchCreatedWhenNotDirectMerge(t *testing.T) {
	tasks := []*core.Task{{ID: "task-1", Status: core.TaskStatusOpen}}
	exec, repo, _ := newTestExecutor(t, tasks, config.ParallelConfig{MaxWorkers: 1, DirectMerge: false, MaxRequeueCount: 1})

	state, err := exec.Run(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, state.MergedTaskIDs, 1)

	if state.SessionBranch == "" {
		t.Fatal("expected a session branch to be recorded")
	}
	if got := repo.CurrentBranch(); got != state.SessionBranch {
		t.Fatalf("expected repo left on session branch %s, got %s", state.SessionBranch, got)
	}
}

func TestExecutor_IndependentTasksMergeInParallel(t *testing.T) {
	tasks := []*core.Task{
		{ID: "task-1", Status: core.TaskStatusOpen},
		{ID: "task-2", Status: core.TaskStatusOpen},
	}
	exec, _, _ := newTestExecutor(t, tasks, config.ParallelConfig{MaxWorkers: 2, DirectMerge: true, MaxRequeueCount: 1})

	state, err := exec.Run(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, state.MergedTaskIDs, 2)
	testutil.AssertLen(t, state.FailedTaskIDs, 0)
}
