package domain

import "time"

// HistoryAction tags what an audit entry records.
type HistoryAction string

const (
	ActionCreated        HistoryAction = "CREATED"
	ActionAutoAssign     HistoryAction = "AUTO-ASSIGN"
	ActionStatusUpdate   HistoryAction = "STATUS_UPDATE"
	ActionPriorityUpdate HistoryAction = "PRIORITY_UPDATE"
	ActionAssignment     HistoryAction = "ASSIGNMENT"
)

// SystemActor attributes entries written without a human caller.
const SystemActor = "System"

// TicketHistory is an immutable audit trail entry.
// Seq is assigned while the ticket is locked and defines history order.
// Timestamp is the writer's wall clock and may lag under clock skew.
type TicketHistory struct {
	ID          string
	Seq         int64
	TicketID    string
	Action      HistoryAction
	Description string
	ChangedBy   string
	Timestamp   time.Time
}
