// Package notify relays domain events to external subscribers. Delivery is
// fire-and-forget: the state machine's correctness never depends on it, and
// failures are logged and counted, not propagated.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// EventType names the transition that occurred.
type EventType string

const (
	EventPermitSubmitted EventType = "permit_submitted"
	EventReviewDecided   EventType = "review_decided"
	EventApprovalDecided EventType = "approval_decided"
)

// Event describes a successful permit state transition for external
// consumers (vendor/authority notification, realtime relays).
type Event struct {
	Type      EventType `json:"type"`
	PermitID  uuid.UUID `json:"permit_id"`
	NewStatus string    `json:"new_status"`
	ActorID   string    `json:"actor_id"`
	ActorName string    `json:"actor_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
