package core

import "context"

// =============================================================================
// AgentAdapter port
// =============================================================================

// StructuredOutputFormat enumerates the structured streams an adapter may
// emit alongside raw stdout.
type StructuredOutputFormat string

const (
	StructuredOutputNone StructuredOutputFormat = "none"
	StructuredOutputJSONL StructuredOutputFormat = "jsonl"
)

// AgentMeta describes a registered agent adapter's fixed capabilities.
type AgentMeta struct {
	ID string
	Name string
	DefaultCommand string
	SupportsStreaming bool
	SupportsInterrupt bool
	SupportsFileContext bool
	SupportsSubagentTracing bool
	StructuredOutputFormat StructuredOutputFormat
}

// SandboxRequirements describes the filesystem/network surface an adapter
// needs exposed when it runs inside an isolated worktree.
type SandboxRequirements struct {
	AuthPaths []string
	BinaryPaths []string
	RuntimePaths []string
	RequiresNetwork bool
}

// ExecutionHandle is a live, cancellable agent execution. Execute returns
// immediately with a handle; callers read Events until it closes, then
// read Result (or Wait, which blocks for it).
type ExecutionHandle interface {
	// Events streams DisplayEvent values until the execution ends.
	Events() <-chan DisplayEvent

	// Wait blocks until the execution finishes and returns its result.
	Wait(ctx context.Context) (*ExecutionResult, error)

	// Interrupt requests cooperative cancellation, giving the child
	// process up to its configured grace period before Kill is implied.
	Interrupt(ctx context.Context) error

	// Kill force-terminates the child process immediately.
	Kill() error
}

// AgentAdapter is the contract every agent CLI integration implements.
// Any adapter conforming to this contract is interchangeable.
type AgentAdapter interface {
	// Meta returns the adapter's fixed identity and capabilities.
	Meta() AgentMeta

	// Detect probes whether the underlying CLI is installed and
	// authenticated.
	Detect(ctx context.Context) (*AgentDetectResult, error)

	// Execute starts a prompt execution and returns a handle to it.
	Execute(ctx context.Context, prompt string, opts ExecuteOptions) (ExecutionHandle, error)

	// GetSandboxRequirements reports the paths and network access this
	// adapter needs when confined to a worktree sandbox.
	GetSandboxRequirements() SandboxRequirements

	// ValidateModel reports an error if model is not one this adapter
	// supports.
	ValidateModel(model string) error
}

// AgentRegistry resolves agent adapters by their registered string id.
type AgentRegistry interface {
	// Register adds an adapter to the registry under id.
	Register(id string, adapter AgentAdapter) error

	// Get retrieves an adapter by id.
	Get(id string) (AgentAdapter, error)

	// List returns all registered adapter ids.
	List() []string

	// Available returns the ids of adapters whose Detect succeeds.
	Available(ctx context.Context) []string
}

// =============================================================================
// Tracker port
// =============================================================================

// PrdContext is optional tracker-supplied context about the parent PRD
// or epic a task belongs to, surfaced to the Prompt Builder.
type PrdContext struct {
	Name string
	Description string
	Content string
	CompletedCount int
	TotalCount int
}

// CompleteTaskResult is the outcome of marking a task complete.
type CompleteTaskResult struct {
	Success bool
	Message string
}

// Tracker is the contract the engine uses to read and update the task
// queue. Adapters live behind a registry keyed by string id, same as
// AgentAdapter.
type Tracker interface {
	// Initialize prepares the tracker using adapter-specific config.
	Initialize(ctx context.Context, config map[string]interface{}) error

	// GetTasks lists tasks matching filter (nil filter returns all).
	GetTasks(ctx context.Context, filter *TaskFilter) ([]*Task, error)

	// GetTask fetches a single task by id, or nil if it doesn't exist.
	GetTask(ctx context.Context, id TaskID) (*Task, error)

	// GetNextTask selects the next task to run, optionally incorporating
	// tracker-side scoring beyond the default SelectNext tie-break.
	GetNextTask(ctx context.Context, filter *TaskFilter) (*Task, error)

	// UpdateTaskStatus transitions a task and returns its new state.
	UpdateTaskStatus(ctx context.Context, id TaskID, status TaskStatus) (*Task, error)

	// CompleteTask marks a task done, with an optional reason.
	CompleteTask(ctx context.Context, id TaskID, reason string) (*CompleteTaskResult, error)

	// IsComplete reports whether no actionable tasks remain under filter.
	IsComplete(ctx context.Context, filter *TaskFilter) (bool, error)

	// GetEpics lists top-level epics (tasks with no ParentID).
	GetEpics(ctx context.Context) ([]*Task, error)

	// GetPrdContext returns PRD context for prompt building, if this
	// tracker implementation has any (nil, nil if not applicable).
	GetPrdContext(ctx context.Context) (*PrdContext, error)
}

// =============================================================================
// GitClient port
// =============================================================================

// GitClient defines the contract for git operations the engine and
// worktree/merge subsystems need. Grounded on the shape of a general git
// CLI wrapper, narrowed to what this system actually drives.
type GitClient interface {
	RepoRoot(ctx context.Context) (string, error)
	CurrentBranch(ctx context.Context) (string, error)
	DefaultBranch(ctx context.Context) (string, error)

	// Checkout switches the main repo's working tree to an existing
	// branch. It never creates worktrees and is never used on a
	// worktree-scoped dir; only the Parallel Executor's final
	// leave-the-user-here step calls it, on the top-level repo.
	Checkout(ctx context.Context, name string) error

	BranchExists(ctx context.Context, name string) (bool, error)
	CreateBranch(ctx context.Context, name, base string) error
	DeleteBranch(ctx context.Context, name string, force bool) error

	AddWorktree(ctx context.Context, path, branch, base string) error
	RemoveWorktree(ctx context.Context, path string, force bool) error
	ListWorktrees(ctx context.Context) ([]GitWorktreeEntry, error)
	PruneWorktrees(ctx context.Context) error

	Status(ctx context.Context, dir string) (*GitStatus, error)
	Add(ctx context.Context, dir string, paths...string) error
	Commit(ctx context.Context, dir, message string) (string, error)

	Diff(ctx context.Context, base, head string) (string, error)
	DiffFiles(ctx context.Context, base, head string) ([]string, error)

	Merge(ctx context.Context, dir, branch string, opts MergeOptions) error
	AbortMerge(ctx context.Context, dir string) error
	HasMergeConflicts(ctx context.Context, dir string) (bool, error)
	GetConflictFiles(ctx context.Context, dir string) ([]string, error)

	Tag(ctx context.Context, name, ref string) error
	TagExists(ctx context.Context, name string) (bool, error)
	ResetHard(ctx context.Context, dir, ref string) error

	IsClean(ctx context.Context, dir string) (bool, error)
}

// GitWorktreeEntry is one entry from `git worktree list --porcelain`.
type GitWorktreeEntry struct {
	Path string
	Branch string
	Commit string
	Locked bool
}

// GitStatus summarizes the working tree state of one repo/worktree.
type GitStatus struct {
	Branch string
	Ahead int
	Behind int
	Staged []FileStatus
	Unstaged []FileStatus
	Untracked []string
	HasConflicts bool
}

// FileStatus represents a file's git status.
type FileStatus struct {
	Path string
	Status string // M, A, D, R, C, U
}

// MergeOptions configures a merge attempt.
type MergeOptions struct {
	NoFF bool
	Message string
	Strategy string
}

// =============================================================================
// WorktreeManager port
// =============================================================================

// WorktreeManager provides the higher-level worktree pool used by the
// Parallel Executor: one worktree per in-flight worker, torn down once
// its merge completes or it is released.
type WorktreeManager interface {
	// Create provisions a new worktree for workerID on a fresh branch
	// cut from base.
	Create(ctx context.Context, workerID string, taskID TaskID, base string) (*WorktreeInfo, error)

	// Get retrieves worktree info for a worker, or nil if none exists.
	Get(ctx context.Context, workerID string) (*WorktreeInfo, error)

	// Remove tears down a worker's worktree and deletes its branch if
	// deleteBranch is true.
	Remove(ctx context.Context, workerID string, deleteBranch bool) error

	// CleanupStale removes worktrees left behind by a crashed session.
	CleanupStale(ctx context.Context) (int, error)

	// List returns all worktrees currently tracked.
	List(ctx context.Context) ([]*WorktreeInfo, error)

	// FreeDiskBytes reports available space on the worktree pool's
	// filesystem, used to refuse new worktrees below a configured floor.
	FreeDiskBytes(ctx context.Context) (uint64, error)
}

// =============================================================================
// StateManager port
// =============================================================================

// StateManager persists Session State and the parallel-session sidecar,
// and arbitrates the single-writer lock over them.
type StateManager interface {
	// Save persists session state atomically under session.json.
	Save(ctx context.Context, state *SessionState) error

	// Load reads session.json. Returns nil, nil if it doesn't exist.
	Load(ctx context.Context) (*SessionState, error)

	// SaveParallel persists the ParallelSessionState sidecar.
	SaveParallel(ctx context.Context, state *ParallelSessionState) error

	// LoadParallel reads parallel-session.json. Returns nil, nil if it
	// doesn't exist.
	LoadParallel(ctx context.Context) (*ParallelSessionState, error)

	// AcquireLock takes the exclusive session.lock, reclaiming it if the
	// recorded holder process is no longer alive.
	AcquireLock(ctx context.Context) error

	// ReleaseLock releases session.lock. A no-op if not held.
	ReleaseLock(ctx context.Context) error

	// Exists reports whether session.json is present.
	Exists() bool

	// AppendProgress appends one entry to progress.md, truncating the
	// oldest entries once the file would exceed its size cap.
	AppendProgress(ctx context.Context, entry string) error
}

// ParallelSessionState is the sidecar tracking in-flight parallel
// execution: worker assignments, the merge queue, and tasks that failed
// to merge after exhausting requeue attempts.
type ParallelSessionState struct {
	SessionID string
	Workers []WorkerDisplayState
	MergeQueue []MergeOperation
	FailedTaskIDs []TaskID
	Graph *TaskGraph

	// LastCompletedGroupIndex is the index into Graph.Groups whose merges
	// have all landed; a resume restarts at this index + 1.
	LastCompletedGroupIndex int
	MergedTaskIDs []TaskID
	RequeuedTaskIDs []TaskID

	// SessionStartTag marks the commit the run began from; if it no
	// longer resolves on resume, the on-disk state is untrustworthy and
	// resume must be refused.
	SessionStartTag string
	SessionBranch string // "" when running with directMerge
	OriginalBranch string
}
