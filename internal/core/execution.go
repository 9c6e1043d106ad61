package core

import "time"

// ExecutionStatus is the outcome of one agent subprocess invocation.
type ExecutionStatus string

const (
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed ExecutionStatus = "failed"
	ExecutionStatusInterrupted ExecutionStatus = "interrupted"
	ExecutionStatusTimeout ExecutionStatus = "timeout"
	ExecutionStatusRateLimited ExecutionStatus = "rate_limited"
)

// TokenUsageSample is one normalized reading extracted from an agent's
// structured output line.
type TokenUsageSample struct {
	InputTokens int
	OutputTokens int
	TotalTokens int
	ContextWindowTokens int
	RemainingContextTokens int
	RemainingContextPercent float64 // 0..1 fraction
	// score counts how many fields this sample populated; used to pick the
	// strongest-signal sample per line.
	Score int
}

// UsageSummary accumulates token usage samples for one task.
type UsageSummary struct {
	InputTokens int
	OutputTokens int
	TotalTokens int
	ContextWindowTokens int // most-recent value wins
	RemainingTokens int // most-recent value wins
}

// ExecutionResult is the normalized outcome of one Agent Runner execution.
type ExecutionResult struct {
	ExecutionID string
	Status ExecutionStatus
	ExitCode int
	Stdout string
	Stderr string
	StartedAt time.Time
	EndedAt time.Time
	DurationMs int64
	Interrupted bool
	RetryAfterMs int64
	TokenUsage *UsageSummary
}

// DisplayEvent is a normalized, adapter-agnostic streamed event surfaced
// to subscribers while an agent runs.
type DisplayEvent struct {
	Type DisplayEventType
	Content string
	Name string // tool name, for ToolUse/ToolResult
	Input string // tool input, for ToolUse
	Message string // for Error
	Subtype string // for System
}

// DisplayEventType enumerates the normalized streamed event kinds.
type DisplayEventType string

const (
	DisplayEventText DisplayEventType = "text"
	DisplayEventToolUse DisplayEventType = "tool_use"
	DisplayEventToolResult DisplayEventType = "tool_result"
	DisplayEventError DisplayEventType = "error"
	DisplayEventSystem DisplayEventType = "system"
)

// ExecuteOptions configures one agent invocation.
type ExecuteOptions struct {
	Model string
	TimeoutMs int64 // 0 = infinite
	InterruptGraceMs int64 // default 5000
	Files []string

	// WorkDir overrides the adapter's bound working directory for this
	// invocation, e.g. a worker's worktree path in parallel execution.
	// Empty means "use whatever the adapter was constructed with".
	WorkDir string
}

// AgentDetectResult is the outcome of probing whether an agent CLI is
// installed and usable.
type AgentDetectResult struct {
	Available bool
	Version string
	ExecutablePath string
	Error string
}
