package core

import "time"

// BroadcastPriority ranks a worker discovery for relevance scoring.
type BroadcastPriority string

const (
	BroadcastPriorityLow BroadcastPriority = "low"
	BroadcastPriorityNormal BroadcastPriority = "normal"
	BroadcastPriorityHigh BroadcastPriority = "high"
	BroadcastPriorityCritical BroadcastPriority = "critical"
)

// SuggestedAction tells a broadcast consumer how to treat a discovery.
type SuggestedAction string

const (
	SuggestedActionContinue SuggestedAction = "continue"
	SuggestedActionReview SuggestedAction = "review"
	SuggestedActionAdjust SuggestedAction = "adjust"
	SuggestedActionAcknowledge SuggestedAction = "acknowledge"
	SuggestedActionStop SuggestedAction = "stop"
)

// Broadcast is a cross-worker discovery published to the optional
// Coordinator. It never alters merge correctness; it is
// observability and cross-worker hinting only.
type Broadcast struct {
	ID string
	WorkerID string
	Category string
	Summary string
	Details string
	AffectedFiles []string
	Priority BroadcastPriority
	CreatedAt time.Time
}

// BroadcastDelivery is a Broadcast annotated for one specific consumer.
type BroadcastDelivery struct {
	Broadcast Broadcast
	RelevanceScore float64 // 0..1
	SuggestedAction SuggestedAction
}
