// Package merge implements the Merge Queue & Conflict Resolver: a single
// serial pipeline that every parallel worker's finished branch funnels
// through before landing on the session branch.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/core"
	"github.com/ralph-tui/ralph-tui/internal/gitx"
	"github.com/ralph-tui/ralph-tui/internal/logging"
)

// AiResolver attempts to resolve one conflicted file given both sides and
// the task that produced the conflicting branch. A nil return (with a nil
// error) means "could not resolve" and triggers the requeue policy.
type AiResolver func(ctx context.Context, conflict core.FileConflict, task *core.Task) (resolved string, err error)

// TaskLookup resolves a TaskID to its current Task, used to give the
// resolver task context.
type TaskLookup func(core.TaskID) *core.Task

// Queue serializes WorkerResults onto a single target branch, one merge
// at a time, with backup-tag-then-rollback-on-failure semantics.
type Queue struct {
	mu sync.Mutex

	git core.GitClient
	dir string // working directory checked out on the target branch
	branch string

	maxRequeueCount int
	resolver AiResolver
	lookup TaskLookup
	log *logging.Logger

	pending []core.WorkerResult
	history []core.MergeOperation
}

// Config configures a Queue.
type Config struct {
	Git core.GitClient
	Dir string
	Branch string
	MaxRequeueCount int
	Resolver AiResolver
	Lookup TaskLookup
	Log *logging.Logger
}

// New creates a Queue draining onto cfg.Branch inside cfg.Dir.
func New(cfg Config) *Queue {
	if cfg.Log == nil {
		cfg.Log = logging.NewNop()
	}
	if cfg.MaxRequeueCount <= 0 {
		cfg.MaxRequeueCount = 3
	}
	return &Queue{
		git: cfg.Git,
		dir: cfg.Dir,
		branch: cfg.Branch,
		maxRequeueCount: cfg.MaxRequeueCount,
		resolver: cfg.Resolver,
		lookup: cfg.Lookup,
		log: cfg.Log,
	}
}

// Enqueue appends a finished worker's result to the merge queue. Workers
// with no commits are accepted but produce a no-op merge operation.
func (q *Queue) Enqueue(result core.WorkerResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, result)
}

// Drain processes every queued operation in FIFO order, returning the full
// history of MergeOperations (both this drain's and prior ones).
func (q *Queue) Drain(ctx context.Context) ([]core.MergeOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		result := q.pending[0]
		q.pending = q.pending[1:]

		op := q.newOperation(result)
		if err := q.process(ctx, &op); err != nil {
			q.history = append(q.history, op)
			return q.history, err
		}
		q.history = append(q.history, op)
	}
	return q.history, nil
}

// Pending reports how many operations are still queued.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// History returns a copy of every MergeOperation processed so far, in
// the order they were run.
func (q *Queue) History() []core.MergeOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]core.MergeOperation(nil), q.history...)
}

func (q *Queue) newOperation(result core.WorkerResult) core.MergeOperation {
	return core.MergeOperation{
		ID: fmt.Sprintf("%s-%s", result.WorkerID, result.TaskID),
		WorkerResult: result,
		Status: core.MergeStatusQueued,
		SourceBranch: result.SourceBranch,
		QueuedAt: time.Now(),
		// Seeded from the WorkerResult, not zero: the operation itself is
		// rebuilt from scratch every time a result is pulled back off
		// q.pending, so the requeue count has to survive on the result.
		RequeueCount: result.RequeueCount,
	}
}

// process runs one operation's full pipeline: backup tag, merge attempt,
// conflict resolution or rollback. Errors returned here are fatal to the
// drain (a git/tracker-level failure, not a mergeable conflict).
func (q *Queue) process(ctx context.Context, op *core.MergeOperation) error {
	now := time.Now()
	op.StartedAt = &now
	op.Status = core.MergeStatusInProgress

	if !op.WorkerResult.HasCommits {
		op.Status = core.MergeStatusCompleted
		completed := time.Now()
		op.CompletedAt = &completed
		return nil
	}

	if err := validateGitRef(op.SourceBranch); err != nil {
		op.Status = core.MergeStatusFailed
		op.Error = err.Error()
		return err
	}

	backupTag, err := q.createBackupTag(ctx, op.WorkerResult.TaskID)
	if err != nil {
		op.Status = core.MergeStatusFailed
		op.Error = err.Error()
		return fmt.Errorf("creating backup tag: %w", err)
	}
	op.BackupTag = backupTag

	op.CommitMessage = fmt.Sprintf("Merge task %s (worker %s)", op.WorkerResult.TaskID, op.WorkerResult.WorkerID)
	mergeErr := q.git.Merge(ctx, q.dir, op.SourceBranch, core.MergeOptions{NoFF: true, Message: op.CommitMessage})

	switch {
	case mergeErr == nil:
		op.Status = core.MergeStatusCompleted
		completed := time.Now()
		op.CompletedAt = &completed
		return nil

	case errors.Is(mergeErr, gitx.ErrNothingToMerge):
		op.Status = core.MergeStatusCompleted
		completed := time.Now()
		op.CompletedAt = &completed
		return nil

	case errors.Is(mergeErr, gitx.ErrMergeConflict):
		return q.handleConflict(ctx, op)

	default:
		_ = q.rollback(ctx, op)
		op.Status = core.MergeStatusFailed
		op.Error = mergeErr.Error()
		return nil
	}
}

// handleConflict assembles per-file conflicts and, if an AiResolver is
// configured, attempts automatic resolution; otherwise (or on resolver
// failure) it rolls back and requeues up to maxRequeueCount times.
func (q *Queue) handleConflict(ctx context.Context, op *core.MergeOperation) error {
	op.Status = core.MergeStatusConflicted

	files, err := q.git.GetConflictFiles(ctx, q.dir)
	if err != nil {
		_ = q.rollback(ctx, op)
		op.Status = core.MergeStatusFailed
		op.Error = fmt.Sprintf("listing conflict files: %v", err)
		return nil
	}
	op.ConflictedFiles = files

	if q.resolver == nil {
		return q.requeueOrFail(ctx, op, "no conflict resolver configured")
	}

	var task *core.Task
	if q.lookup != nil {
		task = q.lookup(op.WorkerResult.TaskID)
	}

	for _, path := range files {
		conflict, err := assembleFileConflict(ctx, q.dir, path)
		if err != nil {
			return q.requeueOrFail(ctx, op, fmt.Sprintf("assembling conflict for %s: %v", path, err))
		}

		resolved, err := q.resolver(ctx, conflict, task)
		if err != nil || resolved == "" {
			return q.requeueOrFail(ctx, op, fmt.Sprintf("resolver could not resolve %s", path))
		}

		if err := writeResolvedFile(q.dir, path, resolved); err != nil {
			return q.requeueOrFail(ctx, op, fmt.Sprintf("writing resolved %s: %v", path, err))
		}
		if err := q.git.Add(ctx, q.dir, path); err != nil {
			return q.requeueOrFail(ctx, op, fmt.Sprintf("staging resolved %s: %v", path, err))
		}
	}

	if _, err := q.git.Commit(ctx, q.dir, op.CommitMessage); err != nil {
		return q.requeueOrFail(ctx, op, fmt.Sprintf("committing resolved merge: %v", err))
	}

	op.Status = core.MergeStatusCompleted
	completed := time.Now()
	op.CompletedAt = &completed
	return nil
}

func (q *Queue) requeueOrFail(ctx context.Context, op *core.MergeOperation, reason string) error {
	if rbErr := q.rollback(ctx, op); rbErr != nil {
		op.Status = core.MergeStatusFailed
		op.Error = fmt.Sprintf("%s; rollback also failed: %v", reason, rbErr)
		return nil
	}

	if op.RequeueCount >= q.maxRequeueCount {
		op.Status = core.MergeStatusRolledBack
		op.Error = reason
		q.log.Warn("merge requeue exhausted, marking task failed",
			"task_id", op.WorkerResult.TaskID, "requeue_count", op.RequeueCount, "reason", reason)
		return nil
	}

	op.RequeueCount++
	op.Status = core.MergeStatusQueued
	op.Error = reason
	q.log.Info("merge conflict unresolved, requeuing",
		"task_id", op.WorkerResult.TaskID, "attempt", op.RequeueCount, "reason", reason)
	op.WorkerResult.RequeueCount = op.RequeueCount
	q.pending = append(q.pending, op.WorkerResult)
	return nil
}

func (q *Queue) rollback(ctx context.Context, op *core.MergeOperation) error {
	if err := q.git.AbortMerge(ctx, q.dir); err != nil {
		q.log.Warn("merge --abort failed, attempting hard reset to backup tag", "error", err)
	}
	if op.BackupTag == "" {
		return nil
	}
	if err := q.git.ResetHard(ctx, q.dir, op.BackupTag); err != nil {
		return fmt.Errorf("resetting to backup tag %s: %w", op.BackupTag, err)
	}
	return nil
}

func (q *Queue) createBackupTag(ctx context.Context, taskID core.TaskID) (string, error) {
	shortID := fmt.Sprintf("%d", time.Now().UnixNano()%1_000_000)
	tag := fmt.Sprintf("backup/%s/%s", sanitizeTagSegment(string(taskID)), shortID)
	if err := q.git.Tag(ctx, tag, "HEAD"); err != nil {
		return "", err
	}
	return tag, nil
}
