package editorial

import "strings"

// Canonical approval queue statuses.
const (
	StatusPendingReview     = "pending_review"
	StatusApprovedScheduled = "approved_scheduled"
	StatusPublished         = "published"
	StatusRejected          = "rejected"
	StatusFailed            = "failed"
)

// Legacy aliases still present in rows written before the scheduling rework.
const (
	legacyStatusPending  = "pending"
	legacyStatusApproved = "approved"
)

// CanonicalStatus maps legacy aliases onto canonical statuses. Empty or
// unknown input normalizes to pending_review.
func CanonicalStatus(status string) string {
	normalized := strings.ToLower(strings.TrimSpace(status))
	switch normalized {
	case legacyStatusPending, "":
		return StatusPendingReview
	case legacyStatusApproved:
		return StatusApprovedScheduled
	default:
		return normalized
	}
}

// Terminal reports whether a status ends the item's lifecycle.
func Terminal(status string) bool {
	switch CanonicalStatus(status) {
	case StatusPublished, StatusRejected, StatusFailed:
		return true
	}
	return false
}

var transitions = map[string][]string{
	StatusPendingReview:     {StatusApprovedScheduled, StatusRejected},
	StatusApprovedScheduled: {StatusPublished, StatusFailed},
}

// CanTransition reports whether moving from one queue status to another is
// legal. Terminal states have no outgoing edges.
func CanTransition(from, to string) bool {
	from = CanonicalStatus(from)
	to = CanonicalStatus(to)
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
