package core

import "time"

// MergeStatus is the lifecycle state of one merge operation.
type MergeStatus string

const (
	MergeStatusQueued MergeStatus = "queued"
	MergeStatusInProgress MergeStatus = "in_progress"
	MergeStatusCompleted MergeStatus = "completed"
	MergeStatusConflicted MergeStatus = "conflicted"
	MergeStatusFailed MergeStatus = "failed"
	MergeStatusRolledBack MergeStatus = "rolled_back"
)

// IsTerminal reports whether s is one of the merge operation's terminal
// states.
func (s MergeStatus) IsTerminal() bool {
	switch s {
	case MergeStatusCompleted, MergeStatusFailed, MergeStatusRolledBack:
		return true
	}
	return false
}

// WorkerResult is the summary a finished worker hands to the merge queue.
type WorkerResult struct {
	WorkerID string
	TaskID TaskID
	WorktreeID string
	SourceBranch string
	CommitSha string
	HasCommits bool
	// RequeueCount survives re-enqueue: the merge queue rebuilds a fresh
	// MergeOperation from this WorkerResult every time it's pulled back off
	// the pending queue, so the cap check lives here, not on the operation.
	RequeueCount int
}

// MergeOperation is one unit of work in the serial merge queue.
type MergeOperation struct {
	ID string
	WorkerResult WorkerResult
	Status MergeStatus
	BackupTag string
	SourceBranch string
	CommitMessage string
	QueuedAt time.Time
	StartedAt *time.Time
	CompletedAt *time.Time
	ConflictedFiles []string
	Error string
	RequeueCount int
}

// FileConflict carries both sides of one conflicted file for resolution.
type FileConflict struct {
	FilePath string
	OursContent string
	TheirsContent string
	BaseContent string
	ConflictMarkers string
}
