package core

import "time"

// WorkerStatus is the lifecycle state of one parallel-executor worker.
type WorkerStatus string

const (
	WorkerStatusIdle      WorkerStatus = "idle"
	WorkerStatusRunning   WorkerStatus = "running"
	WorkerStatusCompleted WorkerStatus = "completed"
	WorkerStatusFailed    WorkerStatus = "failed"
	WorkerStatusCancelled WorkerStatus = "cancelled"
)

// WorkerDisplayState is a read-only snapshot of one worker, intended for
// UI/event subscribers rather than internal control flow.
type WorkerDisplayState struct {
	ID               string
	Status           WorkerStatus
	Task             *Task
	CurrentIteration int
	MaxIterations    int
	ElapsedMs        int64
	WorktreePath     string
	BranchName       string
	CommitSha        string
}

// Elapsed computes ElapsedMs from a start time; callers refresh this on
// each status poll.
func (w *WorkerDisplayState) Elapsed(since time.Time) {
	w.ElapsedMs = time.Since(since).Milliseconds()
}
