package events

import (
	"time"

	"github.com/civicdesk/grievance-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketReopened      EventType = "ticket_reopened"
	EventTicketStatusChanged EventType = "ticket_status_changed"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
	Name   string      `json:"name,omitempty"`
}

// Event represents a lifecycle event handed to the notification dispatcher.
// RecipientID is the user the notification is addressed to.
type Event struct {
	ID          string      `json:"id"`
	Type        EventType   `json:"type"`
	TicketID    string      `json:"ticket_id"`
	RecipientID string      `json:"recipient_id"`
	Actor       Actor       `json:"actor"`
	Timestamp   time.Time   `json:"timestamp"`
	Payload     interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Title              string          `json:"title"`
	Category           domain.Category `json:"category"`
	CreatorID          string          `json:"creator_id"`
	AssignedWorkerID   *string         `json:"assigned_worker_id,omitempty"`
	AssignedWorkerName string          `json:"assigned_worker_name,omitempty"`
}

// TicketReopenedPayload payload.
type TicketReopenedPayload struct {
	WorkerID  string `json:"worker_id"`
	CreatorID string `json:"creator_id"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}
