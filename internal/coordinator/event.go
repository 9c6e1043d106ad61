package coordinator

import (
	"github.com/ralph-tui/ralph-tui/internal/core"
	"github.com/ralph-tui/ralph-tui/internal/events"
)

// BroadcastEvent mirrors a published core.Broadcast onto the shared
// events.Bus so UI subscribers see worker discoveries without
// subscribing to the Coordinator directly.
type BroadcastEvent struct {
	events.BaseEvent
	WorkerID      string                 `json:"worker_id"`
	Category      string                 `json:"category"`
	Summary       string                 `json:"summary"`
	AffectedFiles []string               `json:"affected_files,omitempty"`
	Priority      core.BroadcastPriority `json:"priority"`
}

// NewBroadcastEvent builds a BroadcastEvent from b.
func NewBroadcastEvent(b core.Broadcast) BroadcastEvent {
	return BroadcastEvent{
		BaseEvent:     events.NewBaseEvent(TypeWorkerBroadcast, ""),
		WorkerID:      b.WorkerID,
		Category:      b.Category,
		Summary:       b.Summary,
		AffectedFiles: b.AffectedFiles,
		Priority:      b.Priority,
	}
}
