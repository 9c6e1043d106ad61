package coordinator

import "github.com/ralph-tui/ralph-tui/internal/core"

// priorityRank gives BroadcastPriority a total order for threshold
// comparisons. Unrecognized values rank as normal.
func priorityRank(p core.BroadcastPriority) int {
	switch p {
	case core.BroadcastPriorityLow:
		return 0
	case core.BroadcastPriorityHigh:
		return 2
	case core.BroadcastPriorityCritical:
		return 3
	default:
		return 1 // normal
	}
}

// priorityWeight is priorityRank's contribution to a relevance score.
func priorityWeight(p core.BroadcastPriority) float64 {
	switch p {
	case core.BroadcastPriorityLow:
		return 0.25
	case core.BroadcastPriorityHigh:
		return 0.75
	case core.BroadcastPriorityCritical:
		return 1.0
	default:
		return 0.5 // normal
	}
}

// fileOverlap is the fraction of sub.files that appear in affected,
// 0 when either side is empty.
func fileOverlap(affected []string, files map[string]bool) float64 {
	if len(affected) == 0 || len(files) == 0 {
		return 0
	}
	hits := 0
	for _, f := range affected {
		if files[f] {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return float64(hits) / float64(len(files))
}

// relevance scores b for sub and derives the action the subscriber is
// told to take. A broadcast below sub's category filter scores 0 (never
// delivered). One below MinPriority still scores, but only when it
// touches a file the subscriber's task cares about: an unrelated
// low-priority note is simply not the subscriber's concern, while a
// low-priority note about a shared file is.
func relevance(b core.Broadcast, sub *subscription) (float64, core.SuggestedAction) {
	if len(sub.categories) > 0 && !sub.categories[b.Category] {
		return 0, core.SuggestedActionContinue
	}

	overlap := fileOverlap(b.AffectedFiles, sub.files)
	rank := priorityRank(b.Priority)
	if rank < sub.minPriority && overlap == 0 {
		return 0, core.SuggestedActionContinue
	}

	score := priorityWeight(b.Priority)*0.7 + overlap*0.3
	if score > 1 {
		score = 1
	}

	return score, suggestedAction(b.Priority, overlap)
}

// suggestedAction maps a broadcast's priority (and whether it touches a
// file the recipient cares about) to the action the recipient is told to
// take.
func suggestedAction(priority core.BroadcastPriority, overlap float64) core.SuggestedAction {
	switch priority {
	case core.BroadcastPriorityCritical:
		return core.SuggestedActionStop
	case core.BroadcastPriorityHigh:
		return core.SuggestedActionReview
	case core.BroadcastPriorityLow:
		return core.SuggestedActionContinue
	default: // normal
		if overlap > 0 {
			return core.SuggestedActionAdjust
		}
		return core.SuggestedActionAcknowledge
	}
}
