// Package engine implements the Sequential Engine: the
// single-task iteration loop that selects a task, builds a prompt, runs
// an agent, interprets the result, and persists progress until the task
// source reports completion, an iteration budget is hit, or the operator
// intervenes.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/agent"
	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/core"
	"github.com/ralph-tui/ralph-tui/internal/events"
	"github.com/ralph-tui/ralph-tui/internal/logging"
	"github.com/ralph-tui/ralph-tui/internal/promptbuilder"
)

// ProgressReader is the read side of the progress log, kept separate
// from core.StateManager (which only exposes the append side) so the
// engine can pull recent entries into a prompt without widening that
// port for every other caller.
type ProgressReader interface {
	Read() (string, error)
}

// Deps bundles the ports and shared infrastructure one Engine drives.
type Deps struct {
	Tracker core.Tracker
	Agents core.AgentRegistry
	State core.StateManager
	Progress ProgressReader
	Bus *events.Bus
	Log *logging.Logger

	Template string // prompt template source

	Engine config.EngineConfig
	RateLimit config.RateLimitConfig
}

// recentProgressEntries is how many trailing progress.md entries are
// surfaced to the prompt builder.
const recentProgressEntries = 5

// Engine runs one session's iteration loop against deps.Tracker and
// deps.Agents until it reaches a terminal or suspended state.
type Engine struct {
	deps Deps
	session *core.SessionState

	primaryAgent string
	activeAgent core.ActiveAgentState
	lastProbe time.Time

	mu sync.Mutex
	pause bool
	stop bool
	resumeCh chan struct{}
	retryCounts map[core.TaskID]int
	rlRetries map[string]int
}

// New creates an Engine for session, which may be freshly created or
// loaded from a resumed session.json.
func New(deps Deps, session *core.SessionState) *Engine {
	e := &Engine{
		deps: deps,
		session: session,
		primaryAgent: session.AgentName,
		resumeCh: make(chan struct{}),
		retryCounts: make(map[core.TaskID]int),
		rlRetries: make(map[string]int),
	}
	e.activeAgent = core.ActiveAgentState{Plugin: session.AgentName, Reason: core.AgentReasonPrimary, Since: time.Now()}
	if rl := session.RateLimitState; rl != nil && rl.FallbackAgent != "" {
		e.activeAgent = core.ActiveAgentState{Plugin: rl.FallbackAgent, Reason: core.AgentReasonFallback, Since: time.Now()}
	}
	return e
}

// Pause requests a pause at the next iteration boundary (
// in-flight agent runs are never torn down by pause).
func (e *Engine) Pause() {
	e.mu.Lock()
	e.pause = true
	e.mu.Unlock()
}

// Resume clears a pending pause and wakes a paused Run loop.
func (e *Engine) Resume() {
	e.mu.Lock()
	wasPaused := e.pause
	e.pause = false
	e.mu.Unlock()
	if wasPaused {
		select {
		case e.resumeCh <- struct{}{}:
		default:
		}
	}
}

// Stop requests the loop end after the current iteration, if any.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stop = true
	e.mu.Unlock()
}

func (e *Engine) wantsPause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pause
}

func (e *Engine) wantsStop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stop
}

// Run drives the iteration loop until a terminal condition. It returns
// the session's final status alongside any fatal error.
func (e *Engine) Run(ctx context.Context) (core.SessionStatus, error) {
	e.emit(events.NewEngineEvent(events.TypeEngineStarted, e.session.SessionID, ""))

	for {
		if err := ctx.Err(); err != nil {
			return e.onCancel(ctx)
		}

		if e.wantsStop() {
			return e.terminate(ctx, core.SessionStatusInterrupted, "stopped")
		}

		if e.wantsPause() {
			if err := e.transition(core.SessionStatusPaused); err != nil {
				e.deps.Log.Error("pause transition failed", "error", err)
			}
			e.emit(events.NewEngineEvent(events.TypeEnginePaused, e.session.SessionID, ""))
			if err := e.waitForResume(ctx); err != nil {
				return e.onCancel(ctx)
			}
			if err := e.transition(core.SessionStatusRunning); err != nil {
				e.deps.Log.Error("resume transition failed", "error", err)
			}
			e.emit(events.NewEngineEvent(events.TypeEngineResumed, e.session.SessionID, ""))
			continue
		}

		if e.deps.Engine.MaxIterations > 0 && e.session.CurrentIteration >= e.deps.Engine.MaxIterations {
			return e.terminate(ctx, core.SessionStatusCompleted, "max_iterations")
		}

		allDone, fatal, err := e.runIteration(ctx)
		if err != nil {
			if fatal {
				return e.terminate(ctx, core.SessionStatusFailed, err.Error())
			}
			// non-fatal: logged inside runIteration, loop continues
		}
		if allDone {
			e.emit(events.NewEngineEvent(events.TypeAllComplete, e.session.SessionID, ""))
			return e.terminate(ctx, core.SessionStatusCompleted, "all_complete")
		}
	}
}

func (e *Engine) waitForResume(ctx context.Context) error {
	select {
	case <-e.resumeCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onCancel implements the cancellation sequence of: stop
// scheduling, return activated tasks to open, persist interrupted.
func (e *Engine) onCancel(ctx context.Context) (core.SessionStatus, error) {
	bg := context.Background()
	for _, id := range append([]core.TaskID{}, e.session.ActivatedTaskIDs...) {
		if _, err := e.deps.Tracker.UpdateTaskStatus(bg, id, core.TaskStatusOpen); err != nil {
			e.deps.Log.Warn("failed to release activated task on cancel", "task_id", id, "error", err)
		}
		e.session.Deactivate(id)
	}
	_ = e.session.Transition(core.SessionStatusInterrupted)
	if err := e.deps.State.Save(bg, e.session); err != nil {
		e.deps.Log.Error("failed to persist interrupted session", "error", err)
	}
	e.emit(events.NewEngineEvent(events.TypeEngineStopped, e.session.SessionID, "cancelled"))
	return core.SessionStatusInterrupted, context.Canceled
}

func (e *Engine) terminate(ctx context.Context, status core.SessionStatus, reason string) (core.SessionStatus, error) {
	if e.session.Status != status {
		if err := e.session.Transition(status); err != nil {
			// Interrupted -> Interrupted (stop while already interrupted) or
			// other no-op transitions aren't in the allowed table; force the
			// terminal status directly since Run is exiting regardless.
			e.session.Status = status
			e.session.UpdatedAt = time.Now().UTC()
		}
	}
	if err := e.deps.State.Save(ctx, e.session); err != nil {
		e.deps.Log.Error("failed to persist terminal session state", "error", err)
	}
	e.emit(events.NewEngineEvent(events.TypeEngineStopped, e.session.SessionID, reason))
	return status, nil
}

func (e *Engine) transition(to core.SessionStatus) error {
	if e.session.Status == to {
		return nil
	}
	return e.session.Transition(to)
}

func (e *Engine) emit(ev events.Event) {
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Publish(ev)
}

func (e *Engine) taskFilter() *core.TaskFilter {
	return &core.TaskFilter{Statuses: []core.TaskStatus{core.TaskStatusOpen, core.TaskStatusInProgress}}
}

// runIteration executes one (select, activate, build, execute, interpret,
// persist) cycle. allDone reports the engine should stop because the
// tracker has no more actionable work. fatal reports err should end the
// session as failed rather than simply being logged.
func (e *Engine) runIteration(ctx context.Context) (allDone bool, fatal bool, err error) {
	e.maybeProbeRecovery(ctx)

	task, selErr := e.deps.Tracker.GetNextTask(ctx, e.taskFilter())
	if selErr != nil {
		e.deps.Log.Error("tracker GetNextTask failed", "error", selErr)
		if !core.IsRetryable(selErr) {
			return false, true, selErr
		}
		return false, false, nil
	}
	if task == nil {
		complete, cErr := e.deps.Tracker.IsComplete(ctx, e.taskFilter())
		if cErr != nil {
			e.deps.Log.Error("tracker IsComplete failed", "error", cErr)
			return false, false, nil
		}
		if complete {
			return true, false, nil
		}
		// Nothing actionable right now (e.g. remaining tasks blocked on
		// dependencies) but the tracker says there's still open work.
		e.emit(events.NewEngineEvent(events.TypeEngineWarning, e.session.SessionID, "no actionable task; waiting"))
		_ = sleepCtx(ctx, 2*time.Second)
		return false, false, nil
	}

	e.emit(events.NewTaskEvent(events.TypeTaskSelected, e.session.SessionID, task.ID))

	if _, err := e.deps.Tracker.UpdateTaskStatus(ctx, task.ID, core.TaskStatusInProgress); err != nil {
		e.deps.Log.Warn("tracker UpdateTaskStatus(in_progress) failed; continuing iteration", "task_id", task.ID, "error", err)
	}
	e.session.Activate(task.ID)
	e.emit(events.NewTaskEvent(events.TypeTaskActivated, e.session.SessionID, task.ID))

	iter := core.IterationRecord{
		Iteration: e.session.CurrentIteration + 1,
		TaskID: task.ID,
		Status: core.IterationStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	e.emit(events.NewIterationEvent(events.TypeIterationStarted, e.session.SessionID, iter.Iteration, task.ID))

	prompt, err := e.buildPrompt(ctx, task)
	if err != nil {
		iter.Finalize(core.IterationStatusFailed, time.Now().UTC())
		iter.AgentError = err.Error()
		e.persistIteration(ctx, iter, fmt.Sprintf("task %s: prompt build failed: %v", task.ID, err))
		return false, true, err
	}

	adapterID := e.activeAgent.Plugin
	adapter, getErr := e.deps.Agents.Get(adapterID)
	if getErr != nil {
		iter.Finalize(core.IterationStatusFailed, time.Now().UTC())
		iter.AgentError = getErr.Error()
		e.persistIteration(ctx, iter, fmt.Sprintf("task %s: agent %q unavailable", task.ID, adapterID))
		return false, true, getErr
	}

	handle, execErr := adapter.Execute(ctx, prompt, core.ExecuteOptions{
		Model: e.session.Model,
		TimeoutMs: e.deps.Engine.AgentExecTimeoutDuration().Milliseconds(),
		InterruptGraceMs: e.deps.Engine.InterruptGraceDuration().Milliseconds(),
		WorkDir: e.session.Cwd,
	})
	if execErr != nil {
		// Launch failures are fatal.
		iter.Finalize(core.IterationStatusFailed, time.Now().UTC())
		iter.AgentError = execErr.Error()
		e.persistIteration(ctx, iter, fmt.Sprintf("task %s: agent launch failed: %v", task.ID, execErr))
		return false, true, execErr
	}

	e.drainEvents(handle, adapterID)

	res, waitErr := handle.Wait(ctx)
	if waitErr != nil {
		// Context cancelled mid-execution; interrupt and let the top of
		// Run's loop handle cancellation.
		_ = handle.Interrupt(context.Background())
		iter.Finalize(core.IterationStatusInterrupted, time.Now().UTC())
		e.persistIteration(ctx, iter, fmt.Sprintf("task %s: interrupted", task.ID))
		return false, false, nil
	}

	return e.interpret(ctx, task, &iter, res)
}

func (e *Engine) drainEvents(handle core.ExecutionHandle, adapterID string) {
	go func() {
		for ev := range handle.Events() {
			e.emit(events.NewAgentOutputEvent(e.session.SessionID, adapterID, ev))
		}
	}()
}

func (e *Engine) buildPrompt(ctx context.Context, task *core.Task) (string, error) {
	var epic *core.Task
	if task.ParentID != "" {
		epic, _ = e.deps.Tracker.GetTask(ctx, task.ParentID)
	}
	prd, _ := e.deps.Tracker.GetPrdContext(ctx)

	var recent string
	if e.deps.Progress != nil {
		if content, err := e.deps.Progress.Read(); err == nil {
			recent = tailEntries(content, recentProgressEntries)
		}
	}

	return promptbuilder.Build(e.deps.Template, task, epic, prd, recent, "lowest priority, then lexicographic id")
}

// tailEntries returns the last n "## "-delimited entries from a
// progress.md document.
func tailEntries(content string, n int) string {
	if content == "" || n <= 0 {
		return content
	}
	boundary := "\n## "
	var idxs []int
	for i := 0; i+len(boundary) <= len(content); i++ {
		if content[i:i+len(boundary)] == boundary {
			idxs = append(idxs, i+1)
		}
	}
	if len(idxs) <= n {
		return content
	}
	return content[idxs[len(idxs)-n]:]
}

// interpret maps one execution result onto the task and iteration record:
// completion marker detected, rate limited, failed, or interrupted, each
// advancing the task and session state appropriately.
func (e *Engine) interpret(ctx context.Context, task *core.Task, iter *core.IterationRecord, res *core.ExecutionResult) (allDone bool, fatal bool, err error) {
	iter.AgentExit = res.ExitCode
	iter.StdoutHash = hashStdout(res.Stdout)

	switch res.Status {
	case core.ExecutionStatusCompleted:
		promiseComplete := agent.DetectPromiseComplete(res.Stdout, res.Stderr)
		iter.PromiseComplete = promiseComplete
		if promiseComplete {
			delete(e.retryCounts, task.ID)
			completeRes, cErr := e.deps.Tracker.CompleteTask(ctx, task.ID, "")
			if cErr != nil {
				e.deps.Log.Warn("tracker CompleteTask failed; task left in_progress", "task_id", task.ID, "error", cErr)
			} else {
				iter.TaskCompleted = completeRes == nil || completeRes.Success
			}
			e.session.Deactivate(task.ID)
			iter.Finalize(core.IterationStatusCompleted, time.Now().UTC())
			e.persistIteration(ctx, *iter, fmt.Sprintf("task %s completed", task.ID))
			e.emit(events.NewTaskEvent(events.TypeTaskCompleted, e.session.SessionID, task.ID))
			return false, false, nil
		}
		iter.Finalize(core.IterationStatusCompleted, time.Now().UTC())
		e.persistIteration(ctx, *iter, fmt.Sprintf("task %s: iteration ran without completion marker", task.ID))
		e.advanceUnfinished(ctx, task, "no completion marker")
		return false, false, nil

	case core.ExecutionStatusRateLimited:
		iter.Finalize(core.IterationStatusRateLimited, time.Now().UTC())
		e.persistIteration(ctx, *iter, fmt.Sprintf("task %s: rate limited", task.ID))
		e.emit(events.NewIterationEvent(events.TypeIterationRateLimited, e.session.SessionID, iter.Iteration, task.ID))
		e.applyRateLimitPolicy(ctx, res)
		return false, false, nil

	case core.ExecutionStatusTimeout, core.ExecutionStatusFailed:
		iter.AgentError = res.Stderr
		iter.Finalize(core.IterationStatusFailed, time.Now().UTC())
		e.persistIteration(ctx, *iter, fmt.Sprintf("task %s: execution %s", task.ID, res.Status))
		e.emit(events.NewIterationEvent(events.TypeIterationFailed, e.session.SessionID, iter.Iteration, task.ID))
		e.advanceUnfinished(ctx, task, string(res.Status))
		return false, false, nil

	case core.ExecutionStatusInterrupted:
		iter.Finalize(core.IterationStatusInterrupted, time.Now().UTC())
		e.persistIteration(ctx, *iter, fmt.Sprintf("task %s: interrupted", task.ID))
		return false, false, nil

	default:
		iter.Finalize(core.IterationStatusFailed, time.Now().UTC())
		e.persistIteration(ctx, *iter, fmt.Sprintf("task %s: unknown execution status %q", task.ID, res.Status))
		return false, false, nil
	}
}

// advanceUnfinished applies the configured error policy (retry|skip|abort)
// to a task whose iteration ended without completing it: both the
// failed/timeout branch and the no-completion-marker branch funnel through
// here and follow the same configured policy.
func (e *Engine) advanceUnfinished(ctx context.Context, task *core.Task, reason string) {
	e.mu.Lock()
	e.retryCounts[task.ID]++
	count := e.retryCounts[task.ID]
	e.mu.Unlock()

	policy := e.deps.Engine.ErrorPolicy
	if policy == "" {
		policy = "retry"
	}

	if policy == "retry" && count <= e.deps.Engine.MaxRetries {
		e.emit(events.NewIterationEvent(events.TypeIterationRetrying, e.session.SessionID, e.session.CurrentIteration, task.ID))
		_ = sleepCtx(ctx, e.deps.Engine.RetryDelayDuration())
		return
	}

	// Retries exhausted (or policy isn't retry): skip or abort.
	if policy == "abort" {
		e.Stop()
		return
	}

	delete(e.retryCounts, task.ID)
	e.session.SkippedTaskIDs = append(e.session.SkippedTaskIDs, task.ID)
	e.session.Deactivate(task.ID)
	if _, err := e.deps.Tracker.UpdateTaskStatus(ctx, task.ID, core.TaskStatusBlocked); err != nil {
		e.deps.Log.Warn("failed to mark skipped task blocked", "task_id", task.ID, "error", err)
	}
	e.emit(events.NewIterationEvent(events.TypeIterationSkipped, e.session.SessionID, e.session.CurrentIteration, task.ID))
}

// applyRateLimitPolicy implements rate-limit policy: wait,
// retry primary, fall back, probe for recovery, or pause if exhausted.
func (e *Engine) applyRateLimitPolicy(ctx context.Context, res *core.ExecutionResult) {
	agentID := e.activeAgent.Plugin

	e.mu.Lock()
	e.rlRetries[agentID]++
	attempt := e.rlRetries[agentID]
	e.mu.Unlock()

	if e.session.RateLimitState == nil {
		e.session.RateLimitState = &core.RateLimitState{PrimaryAgent: e.primaryAgent}
	}

	if attempt <= e.deps.RateLimit.MaxRetries {
		wait := time.Duration(res.RetryAfterMs) * time.Millisecond
		if wait <= 0 {
			wait = backoffDelay(attempt, 10*time.Second, e.deps.RateLimit.BackoffCeilingDuration(), 0.3)
		}
		_ = sleepCtx(ctx, wait)
		return
	}

	if fallback := e.firstAvailableFallback(ctx, agentID); fallback != "" {
		now := time.Now()
		e.session.RateLimitState.LimitedAt = &now
		e.session.RateLimitState.FallbackAgent = fallback
		from := e.activeAgent.Plugin
		e.activeAgent = core.ActiveAgentState{Plugin: fallback, Reason: core.AgentReasonFallback, Since: now}
		e.mu.Lock()
		e.rlRetries[fallback] = 0
		e.mu.Unlock()
		e.lastProbe = now
		e.emit(events.NewAgentSwitchedEvent(e.session.SessionID, from, fallback))
		return
	}

	e.emit(events.NewAgentAllLimitedEvent(e.session.SessionID))
	e.Pause()
}

// firstAvailableFallback returns the first configured fallback agent
// (other than exclude) whose Detect succeeds.
func (e *Engine) firstAvailableFallback(ctx context.Context, exclude string) string {
	available := make(map[string]bool)
	for _, id := range e.deps.Agents.Available(ctx) {
		available[id] = true
	}
	for _, id := range e.deps.RateLimit.FallbackAgents {
		if id != exclude && available[id] {
			return id
		}
	}
	return ""
}

// maybeProbeRecovery runs a minimal probe against the primary agent while
// the engine is running on a fallback, switching back on success.
func (e *Engine) maybeProbeRecovery(ctx context.Context) {
	if e.activeAgent.Reason != core.AgentReasonFallback {
		return
	}
	interval := e.deps.RateLimit.RecoveryProbeIntervalDuration()
	if time.Since(e.lastProbe) < interval {
		return
	}
	e.lastProbe = time.Now()

	primary, err := e.deps.Agents.Get(e.primaryAgent)
	if err != nil {
		return
	}
	det, err := primary.Detect(ctx)
	success := err == nil && det != nil && det.Available
	e.emit(events.NewAgentRecoveryAttemptedEvent(e.session.SessionID, e.primaryAgent, success))
	if !success {
		return
	}

	from := e.activeAgent.Plugin
	e.activeAgent = core.ActiveAgentState{Plugin: e.primaryAgent, Reason: core.AgentReasonPrimary, Since: time.Now()}
	if e.session.RateLimitState != nil {
		e.session.RateLimitState.LimitedAt = nil
		e.session.RateLimitState.FallbackAgent = ""
	}
	e.mu.Lock()
	e.rlRetries[e.primaryAgent] = 0
	e.mu.Unlock()
	e.emit(events.NewAgentSwitchedEvent(e.session.SessionID, from, e.primaryAgent))
}

// persistIteration appends iter to the session and flushes session +
// progress state. Persistence errors are logged, not fatal: the
// in-memory session state is still correct for this run even if the
// write to disk fails.
func (e *Engine) persistIteration(ctx context.Context, iter core.IterationRecord, progressNote string) {
	e.session.AppendIteration(iter)
	if iter.Status == core.IterationStatusCompleted {
		e.emit(events.NewIterationEvent(events.TypeIterationCompleted, e.session.SessionID, iter.Iteration, iter.TaskID))
	}
	if err := e.deps.State.Save(ctx, e.session); err != nil {
		e.deps.Log.Error("failed to persist session after iteration", "error", err)
	}
	if err := e.deps.State.AppendProgress(ctx, formatProgressEntry(iter, progressNote)); err != nil {
		e.deps.Log.Error("failed to append progress entry", "error", err)
	}
}

func formatProgressEntry(iter core.IterationRecord, note string) string {
	return fmt.Sprintf("\n## Iteration %d — %s\n\n- task: %s\n- status: %s\n- %s\n",
		iter.Iteration, iter.StartedAt.Format(time.RFC3339), iter.TaskID, iter.Status, note)
}

func hashStdout(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
