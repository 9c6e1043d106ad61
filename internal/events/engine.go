package events

import "github.com/ralph-tui/ralph-tui/internal/core"

// Event type strings for the Sequential Engine's stream.
const (
	TypeEngineStarted = "engine:started"
	TypeEngineStopped = "engine:stopped"
	TypeEnginePaused = "engine:paused"
	TypeEngineResumed = "engine:resumed"
	TypeEngineWarning = "engine:warning"
	TypeAllComplete = "all:complete"
	TypeTasksRefreshed = "tasks:refreshed"

	TypeIterationStarted = "iteration:started"
	TypeIterationCompleted = "iteration:completed"
	TypeIterationFailed = "iteration:failed"
	TypeIterationRetrying = "iteration:retrying"
	TypeIterationSkipped = "iteration:skipped"
	TypeIterationRateLimited = "iteration:rate-limited"

	TypeTaskSelected = "task:selected"
	TypeTaskActivated = "task:activated"
	TypeTaskCompleted = "task:completed"

	TypeAgentOutput = "agent:output"
	TypeAgentSwitched = "agent:switched"
	TypeAgentAllLimited = "agent:all-limited"
	TypeAgentRecoveryAttempted = "agent:recovery-attempted"
)

// EngineEvent covers engine:{started,stopped,paused,resumed,warning} and
// all:complete/tasks:refreshed.
type EngineEvent struct {
	BaseEvent
	Reason string `json:"reason,omitempty"`
}

// NewEngineEvent builds an EngineEvent of the given type.
func NewEngineEvent(eventType, sessionID, reason string) EngineEvent {
	return EngineEvent{BaseEvent: NewBaseEvent(eventType, sessionID), Reason: reason}
}

// IterationEvent covers iteration:{started,completed,failed,retrying,
// skipped,rate-limited}.
type IterationEvent struct {
	BaseEvent
	Iteration int `json:"iteration"`
	TaskID core.TaskID `json:"task_id"`
	Status core.IterationStatus `json:"status,omitempty"`
	Attempt int `json:"attempt,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// NewIterationEvent builds an IterationEvent.
func NewIterationEvent(eventType, sessionID string, iteration int, taskID core.TaskID) IterationEvent {
	return IterationEvent{BaseEvent: NewBaseEvent(eventType, sessionID), Iteration: iteration, TaskID: taskID}
}

// TaskEvent covers task:{selected,activated,completed}.
type TaskEvent struct {
	BaseEvent
	TaskID core.TaskID `json:"task_id"`
	Title string `json:"title,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// NewTaskEvent builds a TaskEvent.
func NewTaskEvent(eventType, sessionID string, taskID core.TaskID) TaskEvent {
	return TaskEvent{BaseEvent: NewBaseEvent(eventType, sessionID), TaskID: taskID}
}

// AgentEvent covers agent:{output,switched,all-limited,recovery-attempted}.
type AgentEvent struct {
	BaseEvent
	AgentID string `json:"agent_id,omitempty"`
	Content string `json:"content,omitempty"`
	FromAgent string `json:"from_agent,omitempty"`
	ToAgent string `json:"to_agent,omitempty"`
	Success bool `json:"success,omitempty"`
}

// NewAgentOutputEvent wraps one streamed DisplayEvent line as an
// agent:output event.
func NewAgentOutputEvent(sessionID, agentID string, ev core.DisplayEvent) AgentEvent {
	return AgentEvent{
		BaseEvent: NewBaseEvent(TypeAgentOutput, sessionID),
		AgentID: agentID,
		Content: ev.Content,
	}
}

// NewAgentSwitchedEvent reports a rate-limit fallback switch.
func NewAgentSwitchedEvent(sessionID, fromAgent, toAgent string) AgentEvent {
	return AgentEvent{BaseEvent: NewBaseEvent(TypeAgentSwitched, sessionID), FromAgent: fromAgent, ToAgent: toAgent}
}

// NewAgentAllLimitedEvent reports that every configured agent is rate
// limited.
func NewAgentAllLimitedEvent(sessionID string) AgentEvent {
	return AgentEvent{BaseEvent: NewBaseEvent(TypeAgentAllLimited, sessionID)}
}

// NewAgentRecoveryAttemptedEvent reports the outcome of a primary-agent
// recovery probe while running on a fallback.
func NewAgentRecoveryAttemptedEvent(sessionID, agentID string, success bool) AgentEvent {
	return AgentEvent{BaseEvent: NewBaseEvent(TypeAgentRecoveryAttempted, sessionID), AgentID: agentID, Success: success}
}
