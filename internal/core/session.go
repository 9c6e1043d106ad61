package core

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusPaused SessionStatus = "paused"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed SessionStatus = "failed"
	SessionStatusInterrupted SessionStatus = "interrupted"
)

// AgentReason explains why the Active-Agent State holds a given plugin.
type AgentReason string

const (
	AgentReasonPrimary AgentReason = "primary"
	AgentReasonFallback AgentReason = "fallback"
)

// ActiveAgentState records which agent is currently driving iterations and
// why.
type ActiveAgentState struct {
	Plugin string
	Reason AgentReason
	Since time.Time
}

// RateLimitState persists across iterations until a recovery probe on the
// primary agent succeeds.
type RateLimitState struct {
	PrimaryAgent string
	LimitedAt *time.Time
	FallbackAgent string
}

// SessionState is the persisted state of one engine run in one working
// directory.
type SessionState struct {
	SessionID string // UUID v4
	Cwd string
	TrackerName string
	AgentName string
	Model string
	Status SessionStatus
	StartedAt time.Time
	UpdatedAt time.Time
	CurrentIteration int
	MaxIterations int // 0 = unlimited
	Iterations []IterationRecord
	SkippedTaskIDs []TaskID
	ActivatedTaskIDs []TaskID
	RateLimitState *RateLimitState
}

// NewSessionState creates a fresh session for cwd driven by tracker/agent.
func NewSessionState(sessionID, cwd, trackerName, agentName string, maxIterations int) *SessionState {
	now := time.Now().UTC()
	return &SessionState{
		SessionID: sessionID,
		Cwd: cwd,
		TrackerName: trackerName,
		AgentName: agentName,
		Status: SessionStatusRunning,
		StartedAt: now,
		UpdatedAt: now,
		MaxIterations: maxIterations,
	}
}

// IsTerminal reports whether the session has reached a status it will not
// leave without a new run.
func (s *SessionState) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusFailed
}

// IsResumable reports whether the session can be picked up by `resume`:
// status is paused or interrupted, and there is either an open task or
// iteration budget remaining.
func (s *SessionState) IsResumable(hasOpenTask bool) bool {
	if s.Status != SessionStatusPaused && s.Status != SessionStatusInterrupted {
		return false
	}
	if hasOpenTask {
		return true
	}
	return s.MaxIterations == 0 || s.CurrentIteration < s.MaxIterations
}

// Activate records taskID as owned-in-progress for crash recovery.
func (s *SessionState) Activate(taskID TaskID) {
	for _, id := range s.ActivatedTaskIDs {
		if id == taskID {
			return
		}
	}
	s.ActivatedTaskIDs = append(s.ActivatedTaskIDs, taskID)
}

// Deactivate removes taskID from the activated set, e.g. on completion or
// graceful release back to the tracker.
func (s *SessionState) Deactivate(taskID TaskID) {
	out := s.ActivatedTaskIDs[:0]
	for _, id := range s.ActivatedTaskIDs {
		if id != taskID {
			out = append(out, id)
		}
	}
	s.ActivatedTaskIDs = out
}

// AppendIteration appends a finalized iteration record. Iterations are
// append-only; callers must not mutate a prior entry.
func (s *SessionState) AppendIteration(rec IterationRecord) {
	s.Iterations = append(s.Iterations, rec)
	s.CurrentIteration = rec.Iteration
	s.UpdatedAt = time.Now().UTC()
}

// Transition moves the session to a new status, validating the handful of
// transitions the engine's state machine allows.
func (s *SessionState) Transition(to SessionStatus) error {
	allowed := map[SessionStatus][]SessionStatus{
		SessionStatusRunning: {SessionStatusPaused, SessionStatusCompleted, SessionStatusFailed, SessionStatusInterrupted},
		SessionStatusPaused: {SessionStatusRunning, SessionStatusInterrupted},
		SessionStatusInterrupted: {SessionStatusRunning},
	}
	for _, next := range allowed[s.Status] {
		if next == to {
			s.Status = to
			s.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid session transition: %s -> %s", s.Status, to)
}
