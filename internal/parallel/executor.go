package parallel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/coordinator"
	"github.com/ralph-tui/ralph-tui/internal/core"
	"github.com/ralph-tui/ralph-tui/internal/engine"
	"github.com/ralph-tui/ralph-tui/internal/events"
	"github.com/ralph-tui/ralph-tui/internal/logging"
	"github.com/ralph-tui/ralph-tui/internal/merge"
)

// CodeSessionNotResumable is returned when a resumed parallel session's
// sessionStartTag no longer resolves: the on-disk sidecar can't be
// trusted against the current repo history.
const CodeSessionNotResumable = "SESSION_NOT_RESUMABLE"

// Config wires one Executor's run.
type Config struct {
	Git core.GitClient
	Tracker core.Tracker
	Agents core.AgentRegistry
	State core.StateManager
	Worktrees core.WorktreeManager
	Bus *events.Bus
	Log *logging.Logger

	// Coordinator, if set, gives every worker in a group a cross-worker
	// discovery channel: each is subscribed for the group's duration and
	// publishes a summary Broadcast when its task completes. Optional —
	// a nil Coordinator disables it without changing merge behavior.
	Coordinator *coordinator.Coordinator

	Template string
	EngineCfg config.EngineConfig
	RateLimit config.RateLimitConfig
	Parallel config.ParallelConfig
	Resolver merge.AiResolver

	// BaseDir is the worktree pool root; worker worktrees and the
	// executor's own merge worktree both live under it.
	BaseDir string
	SessionID string
}

// Executor drives the Parallel Executor: graph-ordered
// worker fan-out over a Sequential Engine per worker, draining the Merge
// Queue between groups.
type Executor struct {
	cfg config.ParallelConfig
	deps Config

	mu sync.Mutex
	pause bool
	resumeCh chan struct{}
}

// New creates an Executor from cfg.
func New(cfg Config) *Executor {
	if cfg.Log == nil {
		cfg.Log = logging.NewNop()
	}
	if cfg.Parallel.MaxWorkers <= 0 {
		cfg.Parallel.MaxWorkers = 1
	}
	return &Executor{cfg: cfg.Parallel, deps: cfg, resumeCh: make(chan struct{})}
}

// Pause requests a pause at the next group boundary: no new worker group
// is started until Resume is called. Workers already running in the
// current group are never torn down by a pause.
func (x *Executor) Pause() {
	x.mu.Lock()
	x.pause = true
	x.mu.Unlock()
}

// Resume clears a pending pause and wakes a paused Run loop.
func (x *Executor) Resume() {
	x.mu.Lock()
	wasPaused := x.pause
	x.pause = false
	x.mu.Unlock()
	if wasPaused {
		select {
		case x.resumeCh <- struct{}{}:
		default:
		}
	}
}

func (x *Executor) wantsPause() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.pause
}

func (x *Executor) waitForResume(ctx context.Context) error {
	select {
	case <-x.resumeCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes every actionable group in the task graph to completion (or
// until ctx is cancelled), returning the final ParallelSessionState.
func (x *Executor) Run(ctx context.Context) (*core.ParallelSessionState, error) {
	originalBranch, err := x.deps.Git.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading current branch: %w", err)
	}

	state, resuming, err := x.loadOrInitState(ctx, originalBranch)
	if err != nil {
		return nil, err
	}

	mergeTarget := state.SessionBranch
	if mergeTarget == "" {
		mergeTarget = state.OriginalBranch
	}

	if state.Graph == nil {
		tasks, err := x.deps.Tracker.GetTasks(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("listing tasks: %w", err)
		}
		state.Graph = BuildGraph(tasks)
	}

	// directMerge targets the branch the caller's repo is already
	// checked out on, so merges happen straight in repoRoot: git refuses
	// to attach a second worktree to a branch that's already checked
	// out. Only the session-branch case needs a dedicated merge
	// worktree, since that branch isn't checked out anywhere yet.
	mergeDir := ""
	releaseMergeWorktree := func() {}
	if mergeTarget == originalBranch {
		mergeDir, err = x.deps.Git.RepoRoot(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving repo root for direct merge: %w", err)
		}
	} else {
		mergeDir = filepath.Join(x.deps.BaseDir, "session-merge")
		if err := x.deps.Git.AddWorktree(ctx, mergeDir, mergeTarget, ""); err != nil {
			return nil, fmt.Errorf("provisioning merge worktree for %s: %w", mergeTarget, err)
		}
		var once sync.Once
		releaseMergeWorktree = func() {
			once.Do(func() {
				if err := x.deps.Git.RemoveWorktree(ctx, mergeDir, false); err != nil {
					x.deps.Log.Warn("failed to remove merge worktree", "path", mergeDir, "error", err)
				}
			})
		}
		// Released explicitly before the final Checkout below (git refuses to
		// check mergeTarget out in repoRoot while this worktree still holds
		// it); this defer only covers early-return error paths.
		defer releaseMergeWorktree()
	}

	queue := merge.New(merge.Config{
		Git: x.deps.Git,
		Dir: mergeDir,
		Branch: mergeTarget,
		MaxRequeueCount: x.cfg.MaxRequeueCount,
		Resolver: x.deps.Resolver,
		Lookup: func(id core.TaskID) *core.Task {
			t, _ := x.deps.Tracker.GetTask(ctx, id)
			return t
		},
		Log: x.deps.Log,
	})

	startGroup := 0
	if resuming {
		startGroup = state.LastCompletedGroupIndex + 1
	}

	for groupIdx := startGroup; groupIdx < len(state.Graph.Groups); groupIdx++ {
		if x.wantsPause() {
			x.deps.Log.Info("parallel executor paused", "next_group", groupIdx)
			if err := x.waitForResume(ctx); err != nil {
				return state, err
			}
			x.deps.Log.Info("parallel executor resumed", "next_group", groupIdx)
		}

		group := state.Graph.Groups[groupIdx]
		if err := x.runGroup(ctx, group, state, queue, mergeTarget); err != nil {
			return state, err
		}
		state.LastCompletedGroupIndex = groupIdx
		if err := x.deps.State.SaveParallel(ctx, state); err != nil {
			x.deps.Log.Error("failed to persist parallel session state", "error", err)
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}
	}

	finalBranch := originalBranch
	if len(state.MergedTaskIDs) > 0 {
		finalBranch = mergeTarget
	}
	if finalBranch != originalBranch {
		releaseMergeWorktree()
		if err := x.deps.Git.Checkout(ctx, finalBranch); err != nil {
			x.deps.Log.Warn("failed to leave repo on final branch", "branch", finalBranch, "error", err)
		}
	}

	return state, nil
}

func (x *Executor) loadOrInitState(ctx context.Context, originalBranch string) (*core.ParallelSessionState, bool, error) {
	existing, err := x.deps.State.LoadParallel(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("loading parallel session state: %w", err)
	}
	if existing != nil {
		ok, err := x.deps.Git.TagExists(ctx, existing.SessionStartTag)
		if err != nil {
			return nil, false, fmt.Errorf("checking session start tag: %w", err)
		}
		if !ok {
			return nil, false, core.ErrPermanent(CodeSessionNotResumable,
				fmt.Sprintf("session start tag %q no longer exists; refusing to resume", existing.SessionStartTag))
		}
		return existing, true, nil
	}

	state := &core.ParallelSessionState{
		SessionID: x.deps.SessionID,
		LastCompletedGroupIndex: -1,
		OriginalBranch: originalBranch,
	}

	if !x.cfg.DirectMerge {
		state.SessionBranch = fmt.Sprintf("ralph-session/%s", shortID(x.deps.SessionID))
		if err := x.deps.Git.CreateBranch(ctx, state.SessionBranch, originalBranch); err != nil {
			return nil, false, fmt.Errorf("creating session branch: %w", err)
		}
	}

	state.SessionStartTag = fmt.Sprintf("ralph-session-start/%s", shortID(x.deps.SessionID))
	if err := x.deps.Git.Tag(ctx, state.SessionStartTag, "HEAD"); err != nil {
		return nil, false, fmt.Errorf("tagging session start: %w", err)
	}

	return state, false, nil
}

// runGroup fans workers out over group's tasks (capped at MaxWorkers
// concurrent), enqueuing each worker's result onto queue as it finishes,
// then drains the queue once the whole group has reported in. Workers run
// under a sync.WaitGroup rather than an errgroup: one worker's failure
// must only fail its own task, never cancel its siblings mid-flight.
func (x *Executor) runGroup(ctx context.Context, group core.ParallelGroup, state *core.ParallelSessionState, queue *merge.Queue, base string) error {
	taskIDs := x.filterAlreadyHandled(group.TaskIDs, state)
	if len(taskIDs) == 0 {
		return nil
	}

	sem := make(chan struct{}, x.cfg.MaxWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	workerLogs := make(map[string]*workerState)

	historyBefore := len(queue.History())

	for i, taskID := range taskIDs {
		node := state.Graph.Nodes[taskID]
		if node == nil || node.Task == nil {
			continue
		}
		task := node.Task
		workerID := fmt.Sprintf("worker-%d", i)

		sem <- struct{}{}
		wg.Add(1)
		go func(workerID string, task *core.Task) {
			defer wg.Done()
			defer func() { <-sem }()

			ws := x.runWorker(ctx, workerID, task, base, queue, state, &mu)
			mu.Lock()
			workerLogs[workerID] = ws
			mu.Unlock()
		}(workerID, task)
	}

	wg.Wait()

	ops, err := queue.Drain(ctx)
	if err != nil {
		return fmt.Errorf("draining merge queue: %w", err)
	}

	newOps := ops[historyBefore:]
	x.reconcile(ctx, newOps, state, workerLogs)
	return nil
}

func (x *Executor) filterAlreadyHandled(ids []core.TaskID, state *core.ParallelSessionState) []core.TaskID {
	done := make(map[core.TaskID]bool, len(state.MergedTaskIDs)+len(state.FailedTaskIDs))
	for _, id := range state.MergedTaskIDs {
		done[id] = true
	}
	for _, id := range state.FailedTaskIDs {
		done[id] = true
	}
	var out []core.TaskID
	for _, id := range ids {
		if !done[id] {
			out = append(out, id)
		}
	}
	return out
}

// runWorker provisions a worktree, runs a Sequential Engine against
// task's single-task tracker view until it reaches a terminal state, and
// enqueues the resulting WorkerResult onto the merge queue. The worktree
// is released (its branch kept) as soon as the engine finishes, since
// only the branch ref is needed for the merge step.
func (x *Executor) runWorker(ctx context.Context, workerID string, task *core.Task, base string, queue *merge.Queue, state *core.ParallelSessionState, mu *sync.Mutex) *workerState {
	ws := newWorkerState()

	wt, err := x.deps.Worktrees.Create(ctx, workerID, task.ID, base)
	if err != nil {
		x.deps.Log.Error("worker failed to acquire worktree", "worker_id", workerID, "task_id", task.ID, "error", err)
		mu.Lock()
		state.FailedTaskIDs = append(state.FailedTaskIDs, task.ID)
		state.Workers = upsertWorker(state.Workers, core.WorkerDisplayState{ID: workerID, Status: core.WorkerStatusFailed, Task: task})
		mu.Unlock()
		queue.Enqueue(core.WorkerResult{WorkerID: workerID, TaskID: task.ID, HasCommits: false})
		return ws
	}

	mu.Lock()
	state.Workers = upsertWorker(state.Workers, core.WorkerDisplayState{
		ID: workerID, Status: core.WorkerStatusRunning, Task: task,
		WorktreePath: wt.Path, BranchName: wt.Branch,
	})
	mu.Unlock()

	if x.deps.Coordinator != nil {
		deliveries := x.deps.Coordinator.Subscribe(workerID, coordinator.SubscribeOptions{})
		defer x.deps.Coordinator.Unsubscribe(workerID)
		go func() {
			for d := range deliveries {
				x.deps.Log.Info("worker received cross-worker discovery",
					"worker_id", workerID, "from", d.Broadcast.WorkerID,
					"category", d.Broadcast.Category, "summary", d.Broadcast.Summary,
					"relevance", d.RelevanceScore, "suggested_action", d.SuggestedAction)
			}
		}()
	}

	tracker := newSingleTaskTracker(x.deps.Tracker, task.ID)
	session := core.NewSessionState(workerID, wt.Path, "parallel", x.chooseAgent(ctx, task), x.deps.EngineCfg.MaxIterations)

	eng := engine.New(engine.Deps{
		Tracker: tracker,
		Agents: x.deps.Agents,
		State: ws,
		Progress: emptyProgressReader{},
		Bus: x.deps.Bus,
		Log: x.deps.Log,
		Template: x.deps.Template,
		Engine: x.deps.EngineCfg,
		RateLimit: x.deps.RateLimit,
	}, session)

	status, runErr := eng.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		x.deps.Log.Warn("worker engine returned an error", "worker_id", workerID, "task_id", task.ID, "error", runErr)
	}

	changed, diffErr := x.deps.Git.DiffFiles(ctx, base, wt.Branch)
	hasCommits := diffErr == nil && len(changed) > 0

	if x.deps.Coordinator != nil && hasCommits {
		priority := core.BroadcastPriorityNormal
		category := "task_completed"
		if status == core.SessionStatusFailed {
			priority = core.BroadcastPriorityHigh
			category = "task_failed"
		}
		x.deps.Coordinator.Publish(core.Broadcast{
			WorkerID: workerID,
			Category: category,
			Summary: fmt.Sprintf("%s touched %d file(s) on %s", task.ID, len(changed), wt.Branch),
			AffectedFiles: changed,
			Priority: priority,
		})
	}

	result := core.WorkerResult{
		WorkerID: workerID,
		TaskID: task.ID,
		WorktreeID: wt.ID,
		SourceBranch: wt.Branch,
		HasCommits: hasCommits,
	}

	displayStatus := core.WorkerStatusCompleted
	if status == core.SessionStatusFailed {
		displayStatus = core.WorkerStatusFailed
	} else if status == core.SessionStatusInterrupted {
		displayStatus = core.WorkerStatusCancelled
	}

	mu.Lock()
	state.Workers = upsertWorker(state.Workers, core.WorkerDisplayState{
		ID: workerID, Status: displayStatus, Task: task,
		WorktreePath: wt.Path, BranchName: wt.Branch,
	})
	mu.Unlock()

	if err := x.deps.Worktrees.Remove(ctx, workerID, false); err != nil {
		x.deps.Log.Warn("failed to release worker worktree", "worker_id", workerID, "error", err)
	}

	queue.Enqueue(result)
	return ws
}

func (x *Executor) chooseAgent(ctx context.Context, task *core.Task) string {
	if task.Metadata != nil {
		if agent := task.Metadata["cli"]; agent != "" {
			return agent
		}
	}
	available := x.deps.Agents.Available(ctx)
	if len(available) > 0 {
		return available[0]
	}
	return ""
}

// reconcile folds one group's merge outcomes into state (merged/failed
// task bookkeeping, branch cleanup) and appends each merged worker's
// captured progress entries onto the shared progress.md in merge-queue
// order, ties broken by worker id.
func (x *Executor) reconcile(ctx context.Context, ops []core.MergeOperation, state *core.ParallelSessionState, workerLogs map[string]*workerState) {
	seen := make(map[core.TaskID]int)
	for _, op := range ops {
		seen[op.WorkerResult.TaskID]++
		if seen[op.WorkerResult.TaskID] > 1 {
			state.RequeuedTaskIDs = appendUnique(state.RequeuedTaskIDs, op.WorkerResult.TaskID)
		}

		if ws, ok := workerLogs[op.WorkerResult.WorkerID]; ok {
			for _, entry := range ws.drainProgress() {
				note := fmt.Sprintf("[%s] %s", op.WorkerResult.WorkerID, entry)
				if err := x.deps.State.AppendProgress(ctx, note); err != nil {
					x.deps.Log.Warn("failed to append reconciled progress entry", "error", err)
				}
			}
		}

		switch op.Status {
		case core.MergeStatusCompleted:
			state.MergedTaskIDs = appendUnique(state.MergedTaskIDs, op.WorkerResult.TaskID)
			if op.SourceBranch != "" {
				if err := x.deps.Git.DeleteBranch(ctx, op.SourceBranch, true); err != nil {
					x.deps.Log.Warn("failed to delete merged worker branch", "branch", op.SourceBranch, "error", err)
				}
			}
		case core.MergeStatusRolledBack, core.MergeStatusFailed:
			state.FailedTaskIDs = appendUnique(state.FailedTaskIDs, op.WorkerResult.TaskID)
			if _, err := x.deps.Tracker.UpdateTaskStatus(ctx, op.WorkerResult.TaskID, core.TaskStatusOpen); err != nil {
				x.deps.Log.Warn("failed to reopen task after merge failure", "task_id", op.WorkerResult.TaskID, "error", err)
			}
			if op.SourceBranch != "" {
				if err := x.deps.Git.DeleteBranch(ctx, op.SourceBranch, true); err != nil {
					x.deps.Log.Warn("failed to delete abandoned worker branch", "branch", op.SourceBranch, "error", err)
				}
			}
		}
	}
}

func appendUnique(ids []core.TaskID, id core.TaskID) []core.TaskID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func upsertWorker(workers []core.WorkerDisplayState, w core.WorkerDisplayState) []core.WorkerDisplayState {
	for i, existing := range workers {
		if existing.ID == w.ID {
			workers[i] = w
			return workers
		}
	}
	return append(workers, w)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
