package core

import "time"

// IterationStatus is the terminal or in-flight state of one iteration.
type IterationStatus string

const (
	IterationStatusRunning     IterationStatus = "running"
	IterationStatusCompleted   IterationStatus = "completed"
	IterationStatusFailed      IterationStatus = "failed"
	IterationStatusInterrupted IterationStatus = "interrupted"
	IterationStatusSkipped     IterationStatus = "skipped"
	IterationStatusRateLimited IterationStatus = "rate_limited"
)

// IsTerminal reports whether s is a final iteration status.
func (s IterationStatus) IsTerminal() bool {
	switch s {
	case IterationStatusCompleted, IterationStatusFailed, IterationStatusInterrupted, IterationStatusSkipped, IterationStatusRateLimited:
		return true
	}
	return false
}

// IterationRecord is one (select, execute, interpret, persist) cycle
// against one task. Iteration records are append-only within a session;
// a record is finalized exactly once.
type IterationRecord struct {
	Iteration       int
	TaskID          TaskID
	Status          IterationStatus
	StartedAt       time.Time
	EndedAt         time.Time
	DurationMs      int64
	PromiseComplete bool
	TaskCompleted   bool
	AgentExit       int
	AgentError      string
	StdoutHash      string
	CommitHash      string
	FilesChanged    []string
}

// Finalize sets the terminal fields of the record. It must be called
// exactly once per iteration.
func (r *IterationRecord) Finalize(status IterationStatus, endedAt time.Time) {
	r.Status = status
	r.EndedAt = endedAt
	r.DurationMs = endedAt.Sub(r.StartedAt).Milliseconds()
}
